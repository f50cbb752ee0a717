package store

import "time"

type User struct {
	ID             int64     `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	Email          string    `json:"email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Chat struct {
	ID        string    `json:"id"` // Using UUID for external ID
	UserID    int64     `json:"user_id"`
	Title     *string   `json:"title"` // Nullable
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID        string    `json:"id"` // Using UUID for external ID
	ChatID    string    `json:"chat_id"`
	Sender    string    `json:"sender"` // "user" or "model"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IdentityKind tags what an Identity value holds so cache keys never have to
// guess between a user id and an email from the string's shape.
type IdentityKind string

const (
	IdentityUser      IdentityKind = "user"
	IdentityEmail     IdentityKind = "email"
	IdentityAnonymous IdentityKind = "anonymous"
	IdentityGlobal    IdentityKind = "global"
)

type Identity struct {
	Kind  IdentityKind `json:"kind"`
	Value string       `json:"value"`
}

func UserIdentity(userID string) Identity { return Identity{Kind: IdentityUser, Value: userID} }
func EmailIdentity(email string) Identity { return Identity{Kind: IdentityEmail, Value: email} }
func AnonymousIdentity() Identity         { return Identity{Kind: IdentityAnonymous, Value: "anonymous"} }

// GlobalIdentity keys entries shared by every caller (trending, category).
func GlobalIdentity() Identity { return Identity{Kind: IdentityGlobal, Value: "*"} }

func (i Identity) String() string { return string(i.Kind) + ":" + i.Value }

type Tier string

const (
	TierPersonalized Tier = "personalized"
	TierTrending     Tier = "trending"
	TierDefault      Tier = "default"
	TierCategory     Tier = "category"
)

// CacheKey addresses at most one live RecommendationCacheEntry.
type CacheKey struct {
	Identity Identity
	Tier     Tier
	Category string
}

// RecommendationItem is the client-facing product shape. URL is always a
// redirect token when the listing had a seller link, empty otherwise.
type RecommendationItem struct {
	ID      string  `json:"id"`
	Source  string  `json:"source"`
	Title   string  `json:"title"`
	Image   string  `json:"image"`
	Price   float64 `json:"price"`
	URL     string  `json:"url"`
	Rating  float64 `json:"rating"`
	Reviews int     `json:"reviews"`
}

type RecommendationCacheEntry struct {
	Key       CacheKey
	Items     []RecommendationItem
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// ClickLogEntry is written once per resolved redirect and never updated.
// Empty UserID, UserAgent and IPAddress mean "not known".
type ClickLogEntry struct {
	ID          string            `json:"id"`
	OriginalURL string            `json:"original_url"`
	Token       string            `json:"token"`
	Params      map[string]string `json:"params"`
	RedirectURL string            `json:"redirect_url"`
	UserID      string            `json:"user_id,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	IPAddress   string            `json:"ip_address,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
