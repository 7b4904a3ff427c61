package bridge

// CredentialKind identifies which credential an AuthDescriptor carries.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialJWT
	CredentialAuthCode
)

// Credential is a JWT, an authorization code, or nothing.
type Credential struct {
	Kind  CredentialKind
	Value string
}

func JwtToken(token string) Credential {
	return Credential{Kind: CredentialJWT, Value: token}
}

func AuthorizationCode(code string) Credential {
	return Credential{Kind: CredentialAuthCode, Value: code}
}

// AuthType mirrors the vendor's authentication flow selector.
// The zero value is the default (Authenticated).
type AuthType int

const (
	AuthAuthenticated AuthType = iota
	AuthImplicit
	AuthCode
)

func (t AuthType) String() string {
	switch t {
	case AuthImplicit:
		return "implicit"
	case AuthCode:
		return "code"
	default:
		return "authenticated"
	}
}

// AuthDescriptor is derived fresh per call and never stored in the session.
// A nil *AuthDescriptor means the caller supplied no auth at all.
type AuthDescriptor struct {
	Credential Credential
	Type       AuthType
	StepUp     bool
}
