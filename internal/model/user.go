package model

import "time"

// User is an application account authenticated by a hashed API token.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	APITokenHash string    `db:"api_token_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}
