package mongostore

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/kenneth/envvault/internal/domain"
	"github.com/kenneth/envvault/internal/store"
)

func userFilter(f store.UserFilter) bson.D {
	d := bson.D{}
	if f.ID != "" {
		d = append(d, bson.E{Key: "_id", Value: f.ID})
	}
	if f.Username != "" {
		d = append(d, bson.E{Key: "username", Value: f.Username})
	}
	if f.Email != "" {
		d = append(d, bson.E{Key: "email", Value: f.Email})
	}
	if f.CredentialKey != "" {
		d = append(d, bson.E{Key: "tokens.key", Value: f.CredentialKey})
	}
	return d
}

// userUpdate builds the update document for patch. A new credential is
// appended with $push so concurrent issuance never loses a write.
func userUpdate(p store.UserPatch, now time.Time) bson.D {
	set := bson.D{{Key: "updated_at", Value: now}}
	if p.Username != nil {
		set = append(set, bson.E{Key: "username", Value: *p.Username})
	}
	if p.Email != nil {
		set = append(set, bson.E{Key: "email", Value: *p.Email})
	}
	if p.PasswordHash != nil {
		set = append(set, bson.E{Key: "password", Value: *p.PasswordHash})
	}
	if p.WrappedMasterKey != nil {
		set = append(set, bson.E{Key: "encrypted_user_key", Value: *p.WrappedMasterKey})
	}
	if p.Avatar != nil {
		set = append(set, bson.E{Key: "avatar", Value: *p.Avatar})
	}
	if p.Credentials != nil {
		creds := append([]domain.Credential{}, (*p.Credentials)...)
		if p.AddCredential != nil {
			creds = append(creds, *p.AddCredential)
		}
		set = append(set, bson.E{Key: "tokens", Value: creds})
	}

	update := bson.D{{Key: "$set", Value: set}}
	if p.AddCredential != nil && p.Credentials == nil {
		update = append(update, bson.E{Key: "$push", Value: bson.D{{Key: "tokens", Value: *p.AddCredential}}})
	}
	return update
}

func environmentFilter(f store.EnvironmentFilter) bson.D {
	d := bson.D{}
	if f.ID != "" {
		d = append(d, bson.E{Key: "_id", Value: f.ID})
	}
	if f.Author != "" {
		d = append(d, bson.E{Key: "author", Value: f.Author})
	}
	if f.Title != "" {
		d = append(d, bson.E{Key: "title", Value: f.Title})
	}
	return d
}

func environmentUpdate(p store.EnvironmentPatch, now time.Time) bson.D {
	set := bson.D{{Key: "updated_at", Value: now}}
	if p.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *p.Title})
	}
	if p.Team != nil {
		team := *p.Team
		if team == nil {
			team = []string{}
		}
		set = append(set, bson.E{Key: "team", Value: team})
	}
	if p.Secrets != nil {
		secrets := *p.Secrets
		if secrets == nil {
			secrets = []domain.Secret{}
		}
		set = append(set, bson.E{Key: "keys", Value: secrets})
	}
	return bson.D{{Key: "$set", Value: set}}
}
