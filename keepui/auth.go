package keepui

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// OwnerIdentity is the display identity carried by a bearer auth token.
// The token is not verified here. The server enforces auth on every request,
// this is only used to label the session owner in clients.
type OwnerIdentity struct {
	OwnerName string
	// public key blobref of the owner, when the token carries one
	Owner BlobRef
}

func ParseAuthTokenUnverified(authToken string) (*OwnerIdentity, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(authToken, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	identity := &OwnerIdentity{}

	if ownerName, ok := claims["name"]; ok {
		if s, ok := ownerName.(string); ok {
			identity.OwnerName = s
		}
	}
	if ownerStr, ok := claims["owner"]; ok {
		if s, ok := ownerStr.(string); ok {
			if owner, err := ParseBlobRef(s); err == nil {
				identity.Owner = owner
			}
		}
	}

	return identity, nil
}

// OwnerIdentity resolves the display identity for this connection:
// the bearer token's claims when set, else the discovery owner name.
func (self *ServerConnection) OwnerIdentity() *OwnerIdentity {
	if self.authToken != "" {
		if identity, err := ParseAuthTokenUnverified(self.authToken); err == nil {
			if identity.OwnerName == "" {
				identity.OwnerName = self.config.OwnerName
			}
			return identity
		}
	}
	return &OwnerIdentity{
		OwnerName: self.config.OwnerName,
	}
}
