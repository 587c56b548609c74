package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/drsoft-oss/numbercheck/internal/proxyrepo"
)

// flexibleInt tolerates the proxy vendor's habit of sometimes quoting
// numeric fields as strings.
type flexibleInt int

func (f *flexibleInt) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexibleInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("flexibleInt: %s is neither number nor string", b)
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("flexibleInt: %q not numeric: %w", s, err)
	}
	*f = flexibleInt(n)
	return nil
}

// ProxyConfig is the "proxy" object of proxy_config.json.
type ProxyConfig struct {
	Host        string      `json:"host"`
	Target      string      `json:"target"`
	CountTarget flexibleInt `json:"count_target"`
	Username    string      `json:"username"`
	Password    string      `json:"password"`
	Share       bool        `json:"share"`
	SocketCount flexibleInt `json:"socket_count"`
	PerFetch    flexibleInt `json:"per_fetch"`
	Protocol    flexibleInt `json:"protocol"` // 0 = socks5, 1 = http
	FetchInterval flexibleInt `json:"fetch_interval"`
}

type proxyConfigFile struct {
	Proxy ProxyConfig `json:"proxy"`
}

// LoadProxyConfig reads and parses proxy_config.json at path.
func LoadProxyConfig(path string) (ProxyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProxyConfig{}, fmt.Errorf("executor: read %s: %w", path, err)
	}
	var f proxyConfigFile
	if err := json.Unmarshal(data, &f); err != nil {
		return ProxyConfig{}, fmt.Errorf("executor: parse %s: %w", path, err)
	}
	return f.Proxy, nil
}

// RepoProtocol converts the JSON protocol field (0=socks5, 1=http) to the
// proxyrepo.Protocol enum.
func (c ProxyConfig) RepoProtocol() proxyrepo.Protocol {
	if c.Protocol == 1 {
		return proxyrepo.HTTPConnect
	}
	return proxyrepo.SOCKS5
}

// PersistPath returns the fixed per-protocol persistence file name.
func (c ProxyConfig) PersistPath() string {
	if c.Protocol == 1 {
		return "http_proxy_servers.txt"
	}
	return "socks5_proxy_servers.txt"
}
