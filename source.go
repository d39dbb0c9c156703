package nebula

import (
	"path/filepath"
	"strings"
)

// SourceKind identifies the variant of a DownloadSource.
type SourceKind int

const (
	SourceHTTP SourceKind = iota
	SourceMagnet
	SourceTorrentFile
	SourceFTP
	SourceVideo
)

// DownloadSource is the classified form of a raw source URI. Only the
// fields relevant to Kind are meaningful; this is the same flat-struct
// tagged-variant idiom used by DownloadEvent.
type DownloadSource struct {
	Kind SourceKind

	URL        string  // Http, Ftp, Video
	URI        string  // Magnet (full magnet: URI)
	MagnetName *string // Magnet, parsed from dn=
	Path       string  // TorrentFile
	FormatID   *string // Video
}

// videoHosts is the fixed, deliberately permissive (substring-match) set
// of known video-site hosts. Order does not matter; membership does.
var videoHosts = []string{
	"youtube.com",
	"youtu.be",
	"bilibili.com",
	"b23.tv",
	"twitter.com",
	"x.com",
	"tiktok.com",
	"douyin.com",
	"vimeo.com",
	"dailymotion.com",
	"twitch.tv",
	"instagram.com",
	"facebook.com",
	"nicovideo.jp",
}

// Classify maps a raw source string to its DownloadSource variant. It is
// pure and total: every input yields exactly one variant, deterministically.
//
// Priority order matters: magnet URIs are recognized first, then known
// video hosts (which must be checked before the generic http/https
// prefix, since video pages are themselves http/https URLs), then plain
// http/https, then ftp, with anything else assumed to be a local .torrent
// file path.
func Classify(raw string) DownloadSource {
	lower := strings.ToLower(raw)

	switch {
	case strings.HasPrefix(lower, "magnet:?"):
		return DownloadSource{Kind: SourceMagnet, URI: raw, MagnetName: magnetDisplayName(raw)}
	case isVideoURL(raw):
		return DownloadSource{Kind: SourceVideo, URL: raw}
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		return DownloadSource{Kind: SourceHTTP, URL: raw}
	case strings.HasPrefix(lower, "ftp://"):
		return DownloadSource{Kind: SourceFTP, URL: raw}
	default:
		return DownloadSource{Kind: SourceTorrentFile, Path: raw}
	}
}

// magnetDisplayName extracts the dn= parameter via a naive ampersand
// split, without URL-decoding: consistent with treating the rest of the
// magnet URI as opaque until the torrent handler parses it.
func magnetDisplayName(raw string) *string {
	for _, part := range strings.Split(raw, "&") {
		if strings.HasPrefix(part, "dn=") {
			name := strings.TrimPrefix(part, "dn=")
			return &name
		}
		if strings.HasPrefix(part, "&dn=") {
			name := strings.TrimPrefix(part, "&dn=")
			return &name
		}
	}
	return nil
}

func isVideoURL(url string) bool {
	for _, host := range videoHosts {
		if strings.Contains(url, host) {
			return true
		}
	}
	return false
}

// DisplayName derives the task's initial display name from the source,
// before any protocol-specific metadata has arrived.
func (s DownloadSource) DisplayName() string {
	switch s.Kind {
	case SourceHTTP:
		return basenameBeforeQuery(s.URL, "download")
	case SourceMagnet:
		if s.MagnetName != nil && *s.MagnetName != "" {
			return *s.MagnetName
		}
		return "magnet link"
	case SourceTorrentFile:
		name := filepath.Base(s.Path)
		if name == "." || name == "/" {
			return "torrent file"
		}
		if stem := strings.TrimSuffix(name, filepath.Ext(name)); stem != "" {
			return stem
		}
		return name
	case SourceFTP:
		return basenameBeforeQuery(s.URL, "ftp file")
	case SourceVideo:
		switch {
		case strings.Contains(s.URL, "bilibili.com") || strings.Contains(s.URL, "b23.tv"):
			return "Bilibili video"
		case strings.Contains(s.URL, "youtube.com") || strings.Contains(s.URL, "youtu.be"):
			return "YouTube video"
		default:
			return "video download"
		}
	default:
		return "download"
	}
}

// ProtocolName names the protocol family handling this source.
func (s DownloadSource) ProtocolName() string {
	switch s.Kind {
	case SourceHTTP:
		return "HTTP"
	case SourceMagnet, SourceTorrentFile:
		return "BitTorrent"
	case SourceFTP:
		return "FTP"
	case SourceVideo:
		return "Video"
	default:
		return "unknown"
	}
}

func basenameBeforeQuery(url, fallback string) string {
	last := url
	if idx := strings.LastIndex(url, "/"); idx >= 0 {
		last = url[idx+1:]
	}
	if idx := strings.Index(last, "?"); idx >= 0 {
		last = last[:idx]
	}
	if last == "" {
		return fallback
	}
	return last
}
