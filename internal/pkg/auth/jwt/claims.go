package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the JWT claims carried by an identity token.
//
// The identity provider that issues these tokens lives outside this service;
// by the time a token reaches the chat subsystem it is expected to carry a
// stable numeric user id and the display profile rendered next to messages
// and in the online-user list.
type Payload struct {
	// StandardClaims embeds the JWT standard fields such as Exp (Expiration),
	// Iat (Issued At), and Iss (Issuer). These are crucial for token validity checks.
	jwt.StandardClaims `json:"standard_claims"`

	// UserID is the stable numeric identifier assigned by the identity provider.
	UserID int64 `json:"user_id"`

	// Name is the display name shown in the chat room.
	Name string `json:"name"`

	// Avatar is the profile picture reference (object storage key or URL).
	Avatar string `json:"avatar,omitempty"`

	// Moderator marks users allowed to delete messages they did not author.
	Moderator bool `json:"moderator,omitempty"`
}
