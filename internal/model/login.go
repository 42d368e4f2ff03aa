package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"
)

// IncomingKind identifies the protocol used to read mail.
type IncomingKind string

const (
	IncomingImap IncomingKind = "Imap"
	IncomingPop  IncomingKind = "Pop"
)

// OutgoingKind identifies the protocol used to send mail.
type OutgoingKind string

const (
	OutgoingSmtp OutgoingKind = "Smtp"
)

// Security describes how the connection to a mail server is secured.
type Security string

const (
	SecurityTLS      Security = "Tls"
	SecurityStartTLS Security = "StartTls"
	SecurityPlain    Security = "Plain"
)

// ServerConfig is the network address of a remote mail server.
type ServerConfig struct {
	Domain   string   `json:"domain"`
	Port     uint16   `json:"port"`
	Security Security `json:"security"`
}

// Address returns the host:port dial address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Domain, s.Port)
}

// PasswordCredentials authenticate with a username and password.
type PasswordCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// OAuthCredentials authenticate with a username and a bearer token.
type OAuthCredentials struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Credentials is a tagged union: exactly one of Password or OAuth is set.
type Credentials struct {
	Password *PasswordCredentials
	OAuth    *OAuthCredentials
}

// NewPasswordCredentials returns password based credentials.
func NewPasswordCredentials(username, password string) Credentials {
	return Credentials{Password: &PasswordCredentials{Username: username, Password: password}}
}

// NewOAuthCredentials returns token based credentials.
func NewOAuthCredentials(username, token string) Credentials {
	return Credentials{OAuth: &OAuthCredentials{Username: username, Token: token}}
}

// Pair returns the username and the secret (password or token).
func (c Credentials) Pair() (username, secret string) {
	switch {
	case c.Password != nil:
		return c.Password.Username, c.Password.Password
	case c.OAuth != nil:
		return c.OAuth.Username, c.OAuth.Token
	}
	return "", ""
}

// Username returns the account name without the secret.
func (c Credentials) Username() string {
	username, _ := c.Pair()
	return username
}

// IsOAuth reports whether the credentials carry a bearer token.
func (c Credentials) IsOAuth() bool {
	return c.OAuth != nil
}

func (c Credentials) String() string {
	if c.OAuth != nil {
		return fmt.Sprintf("OAuth{username: %q, token: [redacted]}", c.OAuth.Username)
	}
	if c.Password != nil {
		return fmt.Sprintf("Password{username: %q, password: [redacted]}", c.Password.Username)
	}
	return "None"
}

// GoString keeps %#v from printing the secret.
func (c Credentials) GoString() string {
	return c.String()
}

// MarshalLogObject implements zapcore.ObjectMarshaler without the secret.
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("username", c.Username())
	if c.IsOAuth() {
		enc.AddString("method", "oauth")
	} else {
		enc.AddString("method", "password")
	}
	return nil
}

func (c Credentials) MarshalJSON() ([]byte, error) {
	switch {
	case c.Password != nil:
		return json.Marshal(map[string]*PasswordCredentials{"Password": c.Password})
	case c.OAuth != nil:
		return json.Marshal(map[string]*OAuthCredentials{"OAuth": c.OAuth})
	}
	return nil, errors.New("credentials: no variant set")
}

func (c *Credentials) UnmarshalJSON(data []byte) error {
	tag, raw, err := singleVariant(data)
	if err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	*c = Credentials{}
	switch tag {
	case "Password":
		var p PasswordCredentials
		if err := decodeStrict(raw, &p); err != nil {
			return fmt.Errorf("credentials: %w", err)
		}
		c.Password = &p
	case "OAuth":
		var o OAuthCredentials
		if err := decodeStrict(raw, &o); err != nil {
			return fmt.Errorf("credentials: %w", err)
		}
		c.OAuth = &o
	default:
		return fmt.Errorf("credentials: unknown variant %q", tag)
	}

	if c.Username() == "" {
		return errors.New("credentials: username is required")
	}
	return nil
}

// ProtocolConfig is the server and credentials of one protocol endpoint.
type ProtocolConfig struct {
	Server      ServerConfig `json:"server"`
	Credentials Credentials  `json:"credentials"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler without the secret.
func (p ProtocolConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("domain", p.Server.Domain)
	enc.AddUint16("port", p.Server.Port)
	enc.AddString("security", string(p.Server.Security))
	return enc.AddObject("credentials", p.Credentials)
}

func (p *ProtocolConfig) validate() error {
	if p.Server.Domain == "" {
		return errors.New("server domain is required")
	}
	if p.Server.Port == 0 {
		return errors.New("server port is required")
	}
	if p.Credentials.Password == nil && p.Credentials.OAuth == nil {
		return errors.New("credentials are required")
	}
	switch p.Server.Security {
	case "":
		p.Server.Security = SecurityTLS
	case SecurityTLS, SecurityStartTLS, SecurityPlain:
	default:
		return fmt.Errorf("unknown connection security %q", p.Server.Security)
	}
	return nil
}

// IncomingProtocol is the protocol used to read mail, tagged by kind.
type IncomingProtocol struct {
	Kind   IncomingKind
	Config ProtocolConfig
}

func (p IncomingProtocol) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[IncomingKind]ProtocolConfig{p.Kind: p.Config})
}

func (p *IncomingProtocol) UnmarshalJSON(data []byte) error {
	tag, raw, err := singleVariant(data)
	if err != nil {
		return fmt.Errorf("incoming protocol: %w", err)
	}

	kind := IncomingKind(tag)
	switch kind {
	case IncomingImap, IncomingPop:
	default:
		return fmt.Errorf("incoming protocol: unknown kind %q", tag)
	}

	var cfg ProtocolConfig
	if err := decodeStrict(raw, &cfg); err != nil {
		return fmt.Errorf("incoming protocol: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("incoming protocol: %w", err)
	}

	p.Kind = kind
	p.Config = cfg
	return nil
}

// OutgoingProtocol is the protocol used to send mail, tagged by kind.
type OutgoingProtocol struct {
	Kind   OutgoingKind
	Config ProtocolConfig
}

func (p OutgoingProtocol) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[OutgoingKind]ProtocolConfig{p.Kind: p.Config})
}

func (p *OutgoingProtocol) UnmarshalJSON(data []byte) error {
	tag, raw, err := singleVariant(data)
	if err != nil {
		return fmt.Errorf("outgoing protocol: %w", err)
	}

	kind := OutgoingKind(tag)
	if kind != OutgoingSmtp {
		return fmt.Errorf("outgoing protocol: unknown kind %q", tag)
	}

	var cfg ProtocolConfig
	if err := decodeStrict(raw, &cfg); err != nil {
		return fmt.Errorf("outgoing protocol: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("outgoing protocol: %w", err)
	}

	p.Kind = kind
	p.Config = cfg
	return nil
}

// LoginConfig holds everything needed to open a mail session: where to
// read mail from, where to send it, and the credentials for both.
type LoginConfig struct {
	Incoming IncomingProtocol `json:"incoming"`
	Outgoing OutgoingProtocol `json:"outgoing"`
}

// ParseLoginConfig decodes and validates the JSON form of a LoginConfig.
func ParseLoginConfig(data []byte) (LoginConfig, error) {
	var login LoginConfig
	if err := decodeStrict(data, &login); err != nil {
		return LoginConfig{}, err
	}
	if login.Incoming.Kind == "" {
		return LoginConfig{}, errors.New("login config: incoming protocol is required")
	}
	if login.Outgoing.Kind == "" {
		return LoginConfig{}, errors.New("login config: outgoing protocol is required")
	}
	return login, nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler without secrets.
func (l LoginConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("incoming_kind", string(l.Incoming.Kind))
	if err := enc.AddObject("incoming", l.Incoming.Config); err != nil {
		return err
	}
	enc.AddString("outgoing_kind", string(l.Outgoing.Kind))
	return enc.AddObject("outgoing", l.Outgoing.Config)
}

func (l LoginConfig) String() string {
	return fmt.Sprintf(
		"%s{%s %s} / %s{%s %s}",
		l.Incoming.Kind, l.Incoming.Config.Server.Address(), l.Incoming.Config.Credentials,
		l.Outgoing.Kind, l.Outgoing.Config.Server.Address(), l.Outgoing.Config.Credentials,
	)
}

// singleVariant unpacks an externally tagged union `{"Tag": {...}}`.
func singleVariant(data []byte) (string, json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected exactly one variant, got %d", len(obj))
	}
	for tag, raw := range obj {
		return tag, raw, nil
	}
	return "", nil, nil
}

// decodeStrict decodes data into v, rejecting fields v does not declare.
// Custom unmarshalers below v do not inherit the setting, so every variant
// payload is decoded through here.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
