package adminsession

import "time"

// AdminUser is the boundary's singleton administrator account.
type AdminUser struct {
	Username        string    `json:"username"`
	PasswordSaltHex string    `json:"passwordSaltHex"`
	PasswordHashHex string    `json:"passwordHashHex"`
	Iterations      int       `json:"iterations"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Session is one logged-in admin session.
type Session struct {
	SessionID      string    `json:"sessionId"`
	Username       string    `json:"username"`
	CSRFToken      string    `json:"csrfToken"`
	CreatedAt      time.Time `json:"createdAt"`
	RotatedAt      time.Time `json:"rotatedAt"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
	AbsoluteExpiry time.Time `json:"absoluteExpiry"`
	IdleExpiry     time.Time `json:"idleExpiry"`
}

// LoginState tracks failed-login backoff for one (username, clientId) pair.
type LoginState struct {
	FailedCount int       `json:"failedCount"`
	LockUntil   time.Time `json:"lockUntil"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
