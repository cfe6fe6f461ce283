package admin

import "time"

// ID of the one and only admin record.
const ID = 1

type Profile struct {
	ID           int       `json:"-"`
	Name         string    `json:"name"`
	Slogan       string    `json:"slogan"`
	Gravatar     string    `json:"gravatar"`
	PasswordHash string    `json:"-"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Public returns a copy safe to hand outside of the auth package boundary.
func (p *Profile) Public() *Profile {
	if p == nil {
		return nil
	}
	public := *p
	public.PasswordHash = ""
	return &public
}

// ProfileUpdate holds the mutable profile fields, nil fields are left as they are.
// The password hash is changed only through Store.SetPasswordHash.
type ProfileUpdate struct {
	Name     *string
	Slogan   *string
	Gravatar *string
}

func (u ProfileUpdate) IsEmpty() bool {
	return u.Name == nil && u.Slogan == nil && u.Gravatar == nil
}

func (u ProfileUpdate) apply(p *Profile) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Slogan != nil {
		p.Slogan = *u.Slogan
	}
	if u.Gravatar != nil {
		p.Gravatar = *u.Gravatar
	}
}
