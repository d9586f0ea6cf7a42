package domain

import "time"

// AnonymousEmail is the handle of the distinguished owner of anonymous mappings.
const AnonymousEmail = "anonymous@anonymous.com"

// Owner is a registered user or the anonymous owner.
type Owner struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	PasswordHash string    `json:"-"`
	Anonymous    bool      `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// OwnerRank is an owner with the total visits across its live mappings.
type OwnerRank struct {
	Owner
	Visits int64 `json:"number_of_visits"`
}

// OwnerDetail is what the current-user endpoint reports.
type OwnerDetail struct {
	Owner
	Mappings int64 `json:"number_of_urls"`
}
