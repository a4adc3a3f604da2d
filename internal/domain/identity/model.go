package identity

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediclear/mediclear/internal/platform/auth"
	"github.com/mediclear/mediclear/pkg/format"
)

// Account holds sign-in credentials and the metadata captured at sign-up.
type Account struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Role             string     `json:"role"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Profile is the staff directory row for an account.
type Profile struct {
	UserID      uuid.UUID `json:"user_id"`
	FullName    string    `json:"full_name"`
	PhoneNumber string    `json:"phone_number"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Identity is the signed-in user as the application shows them.
type Identity struct {
	UserID      uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	FirstName   string    `json:"firstname"`
	LastName    string    `json:"lastname"`
	FullName    string    `json:"full_name"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Initials    string    `json:"initials"`
}

// DisplayName is the full name, or the email when no name is known.
func (i Identity) DisplayName() string {
	return format.OrDefault(i.FullName, i.Email)
}

func emailUser(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// NewIdentity merges an account with its profile. Without a profile the
// names and role come from the account metadata.
func NewIdentity(a *Account, p *Profile) Identity {
	id := Identity{UserID: a.ID, Email: a.Email}
	if p != nil {
		id.FullName = strings.TrimSpace(p.FullName)
		id.PhoneNumber = p.PhoneNumber
		id.Role = format.OrDefault(p.Role, a.Role)
		if first, rest, ok := strings.Cut(id.FullName, " "); ok {
			id.FirstName, id.LastName = first, strings.TrimSpace(rest)
		} else {
			id.FirstName = id.FullName
		}
	} else {
		id.FirstName = strings.TrimSpace(a.FirstName)
		id.LastName = strings.TrimSpace(a.LastName)
		id.FullName = strings.TrimSpace(id.FirstName + " " + id.LastName)
		id.Role = a.Role
	}
	if id.FirstName == "" {
		id.FirstName = emailUser(a.Email)
	}
	id.Role = format.OrDefault(id.Role, auth.RoleOther)
	id.Initials = format.AvatarText(format.OrDefault(id.FullName, id.FirstName))
	return id
}

// SignUpRequest is the registration form.
type SignUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Role        string `json:"role"`
	PhoneNumber string `json:"phone_number"`
}

// SignupRoles are the roles a user may pick when registering.
var SignupRoles = []string{auth.RoleNurse, auth.RoleDoctor, auth.RoleOther}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Normalize trims the form and fills the default role.
func (r SignUpRequest) Normalize() SignUpRequest {
	r.Email = normalizeEmail(r.Email)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	if r.Role == "" {
		r.Role = auth.RoleOther
	}
	return r
}

func (r SignUpRequest) Validate() error {
	if r.Email == "" {
		return &ValidationError{Field: "email", Message: "Email is required"}
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return &ValidationError{Field: "email", Message: "Email is not valid"}
	}
	if len(r.Password) < auth.MinPasswordLength {
		return &ValidationError{Field: "password", Message: "Password must be at least 6 characters"}
	}
	if r.FirstName == "" {
		return &ValidationError{Field: "first_name", Message: "First name is required"}
	}
	valid := false
	for _, role := range SignupRoles {
		if r.Role == role {
			valid = true
		}
	}
	if !valid {
		return &ValidationError{Field: "role", Message: "Role must be nurse, doctor or other"}
	}
	return nil
}

// DoctorOption is one entry of the attending physician picker.
type DoctorOption struct {
	Title string    `json:"title"`
	Value uuid.UUID `json:"value"`
}

// DoctorOptions labels each doctor "Dr <full name>", or by email when the
// profile has no name.
func DoctorOptions(doctors []*Profile) []DoctorOption {
	out := make([]DoctorOption, 0, len(doctors))
	for _, d := range doctors {
		title := d.Email
		if name := strings.TrimSpace(d.FullName); name != "" {
			title = "Dr " + name
		}
		out = append(out, DoctorOption{Title: title, Value: d.UserID})
	}
	return out
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrSignInInProgress   = errors.New("sign-in already in progress")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Message is the user-facing text for an identity error.
func Message(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Message
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password. Please check your credentials and try again."
	case errors.Is(err, ErrEmailNotConfirmed):
		return "Please confirm your email before logging in."
	case errors.Is(err, ErrProfileNotFound):
		return "User profile not found. Please contact administrator."
	case errors.Is(err, ErrEmailTaken):
		return "This email is already registered."
	case errors.Is(err, auth.ErrInvalidToken):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrSignInInProgress):
		return "Signing in, please wait."
	}
	return "An unexpected error occurred"
}

const (
	MessageSignedUp  = "Registration successful! Please check your email to verify your account."
	MessageSignedOut = "Signed out successfully"
	MessageConfirmed = "Email confirmed. You can now sign in."
)

// WelcomeMessage greets a user who just signed in.
func WelcomeMessage(id Identity) string {
	return "Login successful! Welcome back, " + id.DisplayName()
}
