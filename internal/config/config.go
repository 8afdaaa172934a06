package config

type Config struct {
	ListenAddr string `json:"listen_addr"`
	DataDir    string `json:"data_dir"`

	// Collector settings
	ActivityWindowMinutes int `json:"activity_window_minutes"`
	HeartbeatSeconds      int `json:"heartbeat_seconds"`
	RetentionDays         int `json:"retention_days"`

	// CORS for the dashboard API; the track endpoint is always open
	AllowedOrigins []string `json:"allowed_origins"`

	// Secret for server-side session ID fallback
	SecretKey string `json:"secret_key"`
}
