package model

type EmailSettings struct {
	Enabled  bool     `json:"enabled"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

type ScopeUsage struct {
	Scope    string `json:"scope"`
	LastHour int    `json:"lastHour"`
	LastDay  int    `json:"lastDay"`
	PerHour  int    `json:"perHour"`
	PerDay   int    `json:"perDay"`
	LastAtMs int64  `json:"lastAtMs,omitempty"`
}
