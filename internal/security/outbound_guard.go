package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// blockedNetworks は外部通知先として許可しないネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// OutboundGuard は通知用の外部HTTPリクエストを許可されたホストのHTTPSに限定する。
type OutboundGuard struct {
	allowedHosts []string
}

// NewOutboundGuard はOutboundGuardを生成する。
// allowedHostsが空の場合はホスト名による制限を行わず、IP範囲とスキームのみ検証する。
func NewOutboundGuard(allowedHosts ...string) *OutboundGuard {
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &OutboundGuard{allowedHosts: hosts}
}

// Client はSSRF防止機能付きのHTTPクライアントを返す。
// safeurlがDNS解決後のIPアドレスをDialer段階で検証するため、
// プライベートIPやループバックへの接続はDNS再バインディング経由でも拒否される。
func (g *OutboundGuard) Client(timeout time.Duration) *http.Client {
	builder := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443)
	if len(g.allowedHosts) > 0 {
		builder = builder.SetAllowedHosts(g.allowedHosts...)
	}

	return safeurl.Client(builder.Build()).Client
}

// ValidateURL は設定値として与えられた外部URLを起動時に静的検証する。
func (g *OutboundGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("disallowed scheme: %s (allowed: https)", parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
	} else if host == "localhost" {
		return fmt.Errorf("blocked host: %s", host)
	}

	if len(g.allowedHosts) > 0 && !g.hostAllowed(host) {
		return fmt.Errorf("host not in allow list: %s", host)
	}
	return nil
}

func (g *OutboundGuard) hostAllowed(host string) bool {
	for _, allowed := range g.allowedHosts {
		if host == allowed {
			return true
		}
	}
	return false
}
