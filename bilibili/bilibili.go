// Package bilibili is an auxiliary cookie vault and QR login client for
// Bilibili: the video handler needs a logged-in session's cookies to
// fetch formats above the anonymous-tier bitrate cap.
package bilibili

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nebula/nerrors"
)

const passportBaseURL = "https://passport.bilibili.com"

const (
	cookieFilename = "bilibili_cookies.enc"
	keyFilename    = "bilibili_key.bin"
)

// Cookie is the session state needed to authenticate video-site requests
// as a logged-in user.
type Cookie struct {
	SessData    string    `json:"sessdata"`
	BiliJCT     string    `json:"bili_jct"`
	DedeUserID  string    `json:"dede_user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// LoginStatus is the result of one QR-login poll.
type LoginStatus int

const (
	WaitingScan LoginStatus = iota
	WaitingConfirm
	Success
	Expired
	Failed
)

func (s LoginStatus) String() string {
	switch s {
	case WaitingScan:
		return "waiting_scan"
	case WaitingConfirm:
		return "waiting_confirm"
	case Success:
		return "success"
	case Expired:
		return "expired"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// QRCode is a generated login QR code awaiting a scan.
type QRCode struct {
	URL       string
	QRCodeKey string
}

type qrGenerateResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		URL       string `json:"url"`
		QRCodeKey string `json:"qrcode_key"`
	} `json:"data"`
}

type qrPollResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		URL          string `json:"url"`
		RefreshToken string `json:"refresh_token"`
		Timestamp    int64  `json:"timestamp"`
		Code         int    `json:"code"`
		Message      string `json:"message"`
	} `json:"data"`
}

// Auth manages QR login and the on-disk encrypted cookie vault.
type Auth struct {
	dataDir string
	client  *http.Client
}

// New builds an Auth rooted at dataDir, where the encrypted cookie and
// its key are stored.
func New(dataDir string) *Auth {
	return &Auth{
		dataDir: dataDir,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// GenerateQRCode requests a fresh login QR code.
func (a *Auth) GenerateQRCode() (QRCode, error) {
	resp, err := a.client.Get(passportBaseURL + "/x/passport-login/web/qrcode/generate")
	if err != nil {
		return QRCode{}, &nerrors.NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	var body qrGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return QRCode{}, &nerrors.InternalError{Reason: fmt.Sprintf("parse qrcode response: %v", err)}
	}
	if body.Code != 0 || body.Data == nil {
		return QRCode{}, &nerrors.InternalError{Reason: fmt.Sprintf("generate qrcode failed: %s", body.Message)}
	}
	return QRCode{URL: body.Data.URL, QRCodeKey: body.Data.QRCodeKey}, nil
}

// PollQRCode checks a QR code's scan/confirm state, saving the session
// cookie on success.
func (a *Auth) PollQRCode(qrcodeKey string) (LoginStatus, error) {
	reqURL := fmt.Sprintf("%s/x/passport-login/web/qrcode/poll?qrcode_key=%s", passportBaseURL, url.QueryEscape(qrcodeKey))
	resp, err := a.client.Get(reqURL)
	if err != nil {
		return Failed, &nerrors.NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	var cookieHeaders []string
	for _, c := range resp.Cookies() {
		cookieHeaders = append(cookieHeaders, fmt.Sprintf("%s=%s", c.Name, c.Value))
	}

	var body qrPollResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Failed, &nerrors.InternalError{Reason: fmt.Sprintf("parse poll response: %v", err)}
	}
	if body.Code != 0 || body.Data == nil {
		return Failed, &nerrors.InternalError{Reason: fmt.Sprintf("poll failed: %s", body.Message)}
	}

	switch body.Data.Code {
	case 0:
		cookie := parseCookies(cookieHeaders)
		if cookie == nil {
			cookie = parseURLCookies(body.Data.URL)
		}
		if cookie == nil {
			return Failed, &nerrors.InternalError{Reason: "unable to extract login cookie"}
		}
		if err := a.saveCookie(*cookie); err != nil {
			return Failed, err
		}
		return Success, nil
	case 86038:
		return Expired, nil
	case 86090:
		return WaitingScan, nil
	case 86101:
		return WaitingConfirm, nil
	default:
		return Failed, &nerrors.InternalError{Reason: body.Data.Message}
	}
}

func parseCookies(cookies []string) *Cookie {
	var sessdata, biliJCT, dedeUserID string
	var found int
	for _, c := range cookies {
		switch {
		case strings.HasPrefix(c, "SESSDATA="):
			sessdata = strings.TrimPrefix(c, "SESSDATA=")
			found++
		case strings.HasPrefix(c, "bili_jct="):
			biliJCT = strings.TrimPrefix(c, "bili_jct=")
			found++
		case strings.HasPrefix(c, "DedeUserID="):
			dedeUserID = strings.TrimPrefix(c, "DedeUserID=")
			found++
		}
	}
	if found != 3 {
		return nil
	}
	return &Cookie{SessData: sessdata, BiliJCT: biliJCT, DedeUserID: dedeUserID, CreatedAt: time.Now()}
}

func parseURLCookies(rawURL string) *Cookie {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	q := parsed.Query()
	sessdata, biliJCT, dedeUserID := q.Get("SESSDATA"), q.Get("bili_jct"), q.Get("DedeUserID")
	if sessdata == "" || biliJCT == "" || dedeUserID == "" {
		return nil
	}
	return &Cookie{SessData: sessdata, BiliJCT: biliJCT, DedeUserID: dedeUserID, CreatedAt: time.Now()}
}

func (a *Auth) saveCookie(cookie Cookie) error {
	if err := os.MkdirAll(a.dataDir, 0o755); err != nil {
		return &nerrors.IOError{Path: a.dataDir, Message: err.Error()}
	}

	key, err := a.getOrCreateKey()
	if err != nil {
		return err
	}

	plaintext, err := json.Marshal(cookie)
	if err != nil {
		return &nerrors.InternalError{Reason: fmt.Sprintf("marshal cookie: %v", err)}
	}

	sealed, err := encrypt(key, plaintext)
	if err != nil {
		return err
	}

	path := filepath.Join(a.dataDir, cookieFilename)
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return &nerrors.IOError{Path: path, Message: err.Error()}
	}
	return nil
}

// LoadCookie returns the stored cookie, or nil if none has been saved.
func (a *Auth) LoadCookie() (*Cookie, error) {
	path := filepath.Join(a.dataDir, cookieFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &nerrors.IOError{Path: path, Message: err.Error()}
	}

	key, err := a.getOrCreateKey()
	if err != nil {
		return nil, err
	}

	plaintext, err := decrypt(key, data)
	if err != nil {
		return nil, err
	}

	var cookie Cookie
	if err := json.Unmarshal(plaintext, &cookie); err != nil {
		return nil, &nerrors.InternalError{Reason: fmt.Sprintf("unmarshal cookie: %v", err)}
	}
	return &cookie, nil
}

func (a *Auth) getOrCreateKey() ([]byte, error) {
	path := filepath.Join(a.dataDir, keyFilename)
	if data, err := os.ReadFile(path); err == nil && len(data) == 32 {
		return data, nil
	}

	if err := os.MkdirAll(a.dataDir, 0o755); err != nil {
		return nil, &nerrors.IOError{Path: a.dataDir, Message: err.Error()}
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, &nerrors.InternalError{Reason: fmt.Sprintf("generate key: %v", err)}
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, &nerrors.IOError{Path: path, Message: err.Error()}
	}
	return key, nil
}

// IsLoggedIn reports whether a cookie is currently stored.
func (a *Auth) IsLoggedIn() bool {
	cookie, err := a.LoadCookie()
	return err == nil && cookie != nil
}

// Logout deletes the stored cookie.
func (a *Auth) Logout() error {
	path := filepath.Join(a.dataDir, cookieFilename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &nerrors.IOError{Path: path, Message: err.Error()}
	}
	return nil
}

// ExportNetscapeCookies writes the stored cookie in the 3-line Netscape
// cookie-jar format yt-dlp's --cookies flag consumes. Returns the written
// path, or "" if no cookie is stored.
func (a *Auth) ExportNetscapeCookies() (string, error) {
	cookie, err := a.LoadCookie()
	if err != nil {
		return "", err
	}
	if cookie == nil {
		return "", nil
	}

	path := filepath.Join(a.dataDir, "bilibili_cookies.txt")
	var buf bytes.Buffer
	buf.WriteString("# Netscape HTTP Cookie File\n")
	fmt.Fprintf(&buf, ".bilibili.com\tTRUE\t/\tFALSE\t0\tSESSDATA\t%s\n", cookie.SessData)
	fmt.Fprintf(&buf, ".bilibili.com\tTRUE\t/\tFALSE\t0\tbili_jct\t%s\n", cookie.BiliJCT)
	fmt.Fprintf(&buf, ".bilibili.com\tTRUE\t/\tFALSE\t0\tDedeUserID\t%s\n", cookie.DedeUserID)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", &nerrors.IOError{Path: path, Message: err.Error()}
	}
	return path, nil
}

// encrypt seals plaintext under AES-256-GCM, framing the result as
// nonce(12) || ciphertext.
func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &nerrors.InternalError{Reason: fmt.Sprintf("create cipher: %v", err)}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &nerrors.InternalError{Reason: fmt.Sprintf("create gcm: %v", err)}
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, &nerrors.InternalError{Reason: fmt.Sprintf("generate nonce: %v", err)}
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

func decrypt(key, framed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &nerrors.InternalError{Reason: fmt.Sprintf("create cipher: %v", err)}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &nerrors.InternalError{Reason: fmt.Sprintf("create gcm: %v", err)}
	}

	if len(framed) < gcm.NonceSize() {
		return nil, &nerrors.InternalError{Reason: "cookie file truncated"}
	}
	nonce, ciphertext := framed[:gcm.NonceSize()], framed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, &nerrors.InternalError{Reason: fmt.Sprintf("decrypt cookie: %v", err)}
	}
	return plaintext, nil
}
