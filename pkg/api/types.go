package api

// SubscribeRequest initiates a checkout. Either Plan or Amount must be set:
// Plan quotes the localized catalog price, Amount charges an explicit
// major-unit value as-is.
type SubscribeRequest struct {
	Email       string  `json:"email"`
	Plan        string  `json:"plan,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	DeviceID    string  `json:"deviceId,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	CountryCode string  `json:"countryCode,omitempty"`
}

// SubscribeResponse carries the provider checkout URL.
type SubscribeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// PremiumResponse reports an account's premium standing.
type PremiumResponse struct {
	Email     string `json:"email"`
	IsPremium bool   `json:"isPremium"`
}

// TrialRequest starts a free trial for a device.
type TrialRequest struct {
	DeviceID string `json:"deviceId"`
	Email    string `json:"email,omitempty"`
}

// TrialResponse reports the trial decision. ExpiresIn is seconds until the
// trial window closes.
type TrialResponse struct {
	Message     string `json:"message"`
	TrialActive bool   `json:"trialActive"`
	ExpiresIn   int64  `json:"expiresIn,omitempty"`
}

// TrialServerRequest asks for VPN credentials for an active trial device.
type TrialServerRequest struct {
	DeviceID string `json:"deviceId"`
}

// ServerPayload is the connection bundle handed to trial clients.
type ServerPayload struct {
	IP       string   `json:"ip"`
	Port     int      `json:"port,omitempty"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	Location string   `json:"location"`
	Tags     []string `json:"tags,omitempty"`
	Expires  string   `json:"expires"`
}

// TrialServerResponse wraps the allocated server.
type TrialServerResponse struct {
	Server ServerPayload `json:"server"`
}

// VerifyResponse reports the outcome of a reference verification.
type VerifyResponse struct {
	Message   string `json:"message"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Granted   bool   `json:"granted"`
}

// LoginRequest authenticates an admin.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for admin endpoints.
type LoginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// ServerRequest creates or updates a VPN server in the trial pool.
type ServerRequest struct {
	IP       string   `json:"ip"`
	Port     int      `json:"port,omitempty"`
	Country  string   `json:"country,omitempty"`
	Location string   `json:"location,omitempty"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	Tags     []string `json:"tags,omitempty"`
	Capacity int      `json:"capacity,omitempty"`
}

// ServerInfo is the admin view of a pool server. Credentials are included:
// this surface is operator-only.
type ServerInfo struct {
	ID       string   `json:"id"`
	IP       string   `json:"ip"`
	Port     int      `json:"port,omitempty"`
	Country  string   `json:"country,omitempty"`
	Location string   `json:"location,omitempty"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	Tags     []string `json:"tags,omitempty"`
	Capacity int      `json:"capacity"`
	Users    int      `json:"users"`
}

// MessageResponse is the generic message envelope for errors and acks.
type MessageResponse struct {
	Message string `json:"message"`
}
