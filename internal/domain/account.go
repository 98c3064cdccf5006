package domain

// Keys of the per-account data bag.
const (
	AccountKeyVersion             = "version"
	AccountKeyDeleted             = "deleted"
	AccountKeyOrigin              = "origin"
	AccountKeyAccessToken         = "access_token"
	AccountKeyCredentialsVerified = "credentials_verified"
	AccountKeyActorID             = "actor_id"
	AccountKeyUsername            = "username"
)

// AccountVersion is the data layout version valid accounts must carry.
const AccountVersion = "16"

const CredentialsSucceeded = "succeeded"

// Account is an opaque key/value bag stored under a unique name like "alice@mastodon.social".
type Account struct {
	Name string            `json:"name"`
	Data map[string]string `json:"data"`
}

func (a Account) Get(key string) string {
	if a.Data == nil {
		return ""
	}
	return a.Data[key]
}

func (a Account) Origin() string  { return a.Get(AccountKeyOrigin) }
func (a Account) ActorID() string { return a.Get(AccountKeyActorID) }

func (a Account) IsValid() bool {
	return a.Name != "" &&
		a.Get(AccountKeyDeleted) != "true" &&
		a.Get(AccountKeyVersion) == AccountVersion &&
		a.Origin() != ""
}

// IsValidAndSucceeded reports a valid account whose credentials were verified.
func (a Account) IsValidAndSucceeded() bool {
	return a.IsValid() &&
		a.Get(AccountKeyCredentialsVerified) == CredentialsSucceeded &&
		a.Get(AccountKeyAccessToken) != ""
}
