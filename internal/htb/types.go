package htb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Bool decodes the API's mix of true/false, 0/1 and "true"/"1" values.
type Bool bool

func (b *Bool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "":
		*b = false
		return nil
	case "true":
		*b = true
		return nil
	case "false":
		*b = false
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			*b = false
			return nil
		}
		*b = Bool(v)
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cannot decode %s as bool", data)
	}
	*b = n != 0
	return nil
}

// Number decodes a JSON number that may also arrive quoted.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*n = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("cannot decode %q as number", s)
		}
		*n = Number(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// User is the authenticated account.
type User struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Avatar         string `json:"avatar"`
	IsVIP          Bool   `json:"isVip"`
	IsDedicatedVIP Bool   `json:"isDedicatedVip"`
	ServerID       int    `json:"server_id"`
	Team           string `json:"team_name"`
}

// SubscriptionDisplay names the subscription tier.
func (u *User) SubscriptionDisplay() string {
	switch {
	case bool(u.IsDedicatedVIP):
		return "VIP+"
	case bool(u.IsVIP):
		return "VIP"
	default:
		return "Free"
	}
}

// ActiveMachine is the single machine instance the account currently owns.
// IP stays empty until provisioning completes.
type ActiveMachine struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
	IP         string `json:"ip"`
	Type       string `json:"type"`
	ExpiresAt  string `json:"expires_at"`
	IsSpawning Bool   `json:"isSpawning"`
	LabServer  string `json:"lab_server"`
}

// HasIP reports whether the machine has been assigned an address.
func (m *ActiveMachine) HasIP() bool {
	return m != nil && m.IP != ""
}

// StatusText describes the machine's lifecycle state.
func (m *ActiveMachine) StatusText() string {
	if bool(m.IsSpawning) || m.IP == "" {
		return "Spawning..."
	}

	parts := []string{"Running"}
	if m.LabServer != "" {
		parts = append(parts, "on "+m.LabServer)
	}
	if m.ExpiresAt != "" {
		parts = append(parts, "until "+m.ExpiresAt)
	}
	return strings.Join(parts, " ")
}

// Connection is one VPN connection of the account.
type Connection struct {
	Type          string
	Name          string
	IPv4          string
	IPv6          string
	ThroughPwnbox bool
	ServerID      int
	ServerName    string
	Hostname      string
	Port          int
}

type connectionWire struct {
	Type       string `json:"type"`
	Connection struct {
		Name          string `json:"name"`
		IP4           string `json:"ip4"`
		IP6           string `json:"ip6"`
		ThroughPwnbox Bool   `json:"through_pwnbox"`
	} `json:"connection"`
	Server struct {
		ID           int    `json:"id"`
		Hostname     string `json:"hostname"`
		Port         int    `json:"port"`
		FriendlyName string `json:"friendly_name"`
	} `json:"server"`
}

func (c *Connection) UnmarshalJSON(data []byte) error {
	var w connectionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Connection{
		Type:          w.Type,
		Name:          w.Connection.Name,
		IPv4:          w.Connection.IP4,
		IPv6:          w.Connection.IP6,
		ThroughPwnbox: bool(w.Connection.ThroughPwnbox),
		ServerID:      w.Server.ID,
		ServerName:    w.Server.FriendlyName,
		Hostname:      w.Server.Hostname,
		Port:          w.Server.Port,
	}
	return nil
}

// IPDisplay renders the tunnel addresses.
func (c *Connection) IPDisplay() string {
	switch {
	case c.IPv4 != "" && c.IPv6 != "":
		return c.IPv4 + " / " + c.IPv6
	case c.IPv4 != "":
		return c.IPv4
	case c.IPv6 != "":
		return c.IPv6
	default:
		return "No IP assigned"
	}
}

// Machine is a machine profile as listed or looked up by id.
type Machine struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	OS             string `json:"os"`
	IP             string `json:"ip"`
	Avatar         string `json:"avatar"`
	Points         int    `json:"points"`
	DifficultyText string `json:"difficultyText"`
	Rating         Number `json:"stars"`
	UserOwns       int    `json:"user_owns_count"`
	RootOwns       int    `json:"root_owns_count"`
	Free           Bool   `json:"free"`
	Release        string `json:"release"`
	OwnedUser      Bool   `json:"authUserInUserOwns"`
	OwnedRoot      Bool   `json:"authUserInRootOwns"`
}

// Activity kinds.
const (
	ActivityUser  = "user"
	ActivityRoot  = "root"
	ActivityBlood = "blood"
)

// Activity is one event in a machine's timeline.
type Activity struct {
	Date       string `json:"date"`
	DateDiff   string `json:"date_diff"`
	UserID     int    `json:"user_id"`
	UserName   string `json:"user_name"`
	UserAvatar string `json:"user_avatar"`
	Avatar     string `json:"avatar"`
	Type       string `json:"type"`
	BloodType  string `json:"blood_type"`
}

// Label names the event, e.g. "root first blood".
func (a Activity) Label() string {
	switch a.Type {
	case ActivityBlood:
		if a.BloodType == "" {
			return "first blood"
		}
		return a.BloodType + " first blood"
	case ActivityUser, ActivityRoot:
		return a.Type + " own"
	default:
		return a.Type
	}
}

// AvatarURL returns an absolute avatar URL, resolving relative paths
// against base.
func (a Activity) AvatarURL(base string) string {
	avatar := a.UserAvatar
	if avatar == "" {
		avatar = a.Avatar
	}
	return ResolveURL(base, avatar)
}

// ResolveURL prefixes a relative path with base. Absolute URLs and empty
// paths are returned unchanged.
func ResolveURL(base, path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// ActionResult is the reply to spawn, reset and terminate.
type ActionResult struct {
	Message string `json:"message"`
	Success Bool   `json:"success"`
}

// FlagResult is the verdict on a submitted flag. A rejected flag is a
// successful call with Accepted false, not an error.
type FlagResult struct {
	Accepted bool
	Message  string
}
