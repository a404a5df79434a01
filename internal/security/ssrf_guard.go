// Package security は外部ソースから取り込むデータの安全性を確保する。
package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// FeedGuard はコレクターが掲載フィードを取得する際のSSRF対策を提供する。
// 設定ファイルのフィードURLは起動時にValidateURLで検査し、取得時はSafeClientを使う。
type FeedGuard interface {
	// SafeClient は内部ネットワーク宛ての接続をDialerで拒否するHTTPクライアントを返す。
	// DNS解決後のIPアドレスを検査するため、DNSリバインディングにも対応する。
	SafeClient(timeout time.Duration) *http.Client

	// ValidateURL はDNS解決を伴わずにフィードURLを静的に検査する。
	ValidateURL(rawURL string) error
}

var feedSchemes = []string{"http", "https"}

// blockedPrefixes は静的検査で拒否するアドレス範囲。
// 169.254.0.0/16 はクラウドのメタデータエンドポイントを含む。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

var blockedHosts = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
}

type feedGuard struct {
	ports []int
}

// NewFeedGuard はFeedGuardを生成する。portsを省略した場合は80と443のみ許可する。
func NewFeedGuard(ports ...int) FeedGuard {
	if len(ports) == 0 {
		ports = []int{80, 443}
	}
	return &feedGuard{ports: ports}
}

func (g *feedGuard) SafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(feedSchemes...).
		SetAllowedPorts(g.ports...).
		Build()
	return safeurl.Client(cfg).Client
}

func (g *feedGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("empty feed URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid feed URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("feed URL has no host: %s", rawURL)
	}
	if _, ok := blockedHosts[host]; ok {
		return fmt.Errorf("blocked host: %s", host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return fmt.Errorf("blocked address: %s", addr)
			}
		}
	}
	return nil
}
