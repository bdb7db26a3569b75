package status

// NetworkInfo contains host network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

// NetworkFromEnv reads network info exported by pi-helper. It returns nil when
// no status is present.
func NetworkFromEnv(getenv func(string) string) *NetworkInfo {
	s := getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &NetworkInfo{
		Type:       getenv(envNetworkType),
		IP:         getenv(envNetworkIP),
		Status:     s,
		Gateway:    getenv(envNetworkGateway),
		WifiStatus: getenv(envNetworkWifiStatus),
		SSID:       getenv(envNetworkWifiSSID),
	}
}
