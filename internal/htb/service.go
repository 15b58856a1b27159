// Package htb names the lab API operations. Each operation is one Transport
// call with its endpoint and version fixed; deciding when to call and how to
// render the result is left to the caller.
package htb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/htbdesk/htb/internal/api"
)

var (
	// ErrInvalidResponse means a successful call returned an unexpected shape.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrEmptyFlag is returned before any call when the flag text is blank.
	ErrEmptyFlag = errors.New("flag must not be empty")
	// ErrInvalidMachineID is returned before any call for ids below 1.
	ErrInvalidMachineID = errors.New("machine id must be positive")
)

const (
	defaultActionMessage = "Action completed successfully"
	defaultFlagAccepted  = "Flag accepted!"
	defaultFlagRejected  = "Wrong flag"
)

// Transport is the subset of *api.Client the operations need.
type Transport interface {
	Get(ctx context.Context, endpoint string, params url.Values, v api.Version) (*api.Response, error)
	Post(ctx context.Context, endpoint string, body any, v api.Version) (*api.Response, error)
}

// Service exposes the named operations.
type Service struct {
	t       Transport
	baseURL string
}

// NewService wraps t. baseURL is the site host, used to resolve relative
// avatar paths.
func NewService(t Transport, baseURL string) *Service {
	return &Service{t: t, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// BaseURL returns the host relative asset paths resolve against.
func (s *Service) BaseURL() string {
	return s.baseURL
}

type infoEnvelope[T any] struct {
	Info T `json:"info"`
}

type activityInfo struct {
	Activity []Activity `json:"activity"`
}

func decode(resp *api.Response, v any) error {
	if err := resp.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// UserInfo fetches the authenticated account.
func (s *Service) UserInfo(ctx context.Context) (*User, error) {
	resp, err := s.t.Get(ctx, "/user/info", nil, api.V4)
	if err != nil {
		return nil, err
	}
	var env infoEnvelope[*User]
	if err := decode(resp, &env); err != nil {
		return nil, err
	}
	if env.Info == nil {
		return nil, fmt.Errorf("%w: missing user info", ErrInvalidResponse)
	}
	return env.Info, nil
}

// ActiveMachine fetches the account's running machine. It returns nil and
// no error when nothing is running.
func (s *Service) ActiveMachine(ctx context.Context) (*ActiveMachine, error) {
	resp, err := s.t.Get(ctx, "/machine/active", nil, api.V4)
	if err != nil {
		return nil, err
	}
	var env infoEnvelope[*ActiveMachine]
	if err := decode(resp, &env); err != nil {
		return nil, err
	}
	if env.Info == nil || env.Info.ID == 0 {
		return nil, nil
	}
	return env.Info, nil
}

// ConnectionStatus lists the account's VPN connections.
func (s *Service) ConnectionStatus(ctx context.Context) ([]Connection, error) {
	resp, err := s.t.Get(ctx, "/connection/status", nil, api.V4)
	if err != nil {
		return nil, err
	}
	var conns []Connection
	if err := decode(resp, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// MachineProfile looks a machine up by id or name.
func (s *Service) MachineProfile(ctx context.Context, idOrName string) (*Machine, error) {
	idOrName = strings.TrimSpace(idOrName)
	if idOrName == "" {
		return nil, fmt.Errorf("machine id or name must not be empty")
	}
	resp, err := s.t.Get(ctx, "/machine/profile/"+url.PathEscape(idOrName), nil, api.V4)
	if err != nil {
		return nil, err
	}
	var env infoEnvelope[*Machine]
	if err := decode(resp, &env); err != nil {
		return nil, err
	}
	if env.Info == nil {
		return nil, fmt.Errorf("%w: missing machine info", ErrInvalidResponse)
	}
	return env.Info, nil
}

// ListMachines returns one page of active machines.
func (s *Service) ListMachines(ctx context.Context, page, perPage int) ([]Machine, error) {
	params := url.Values{}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		params.Set("per_page", strconv.Itoa(perPage))
	}
	resp, err := s.t.Get(ctx, "/machine/paginated", params, api.V4)
	if err != nil {
		return nil, err
	}
	var env struct {
		Data []Machine `json:"data"`
	}
	if err := decode(resp, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// SpawnMachine starts machineID.
func (s *Service) SpawnMachine(ctx context.Context, machineID int) (*ActionResult, error) {
	return s.vmAction(ctx, "/vm/spawn", machineID)
}

// ResetMachine resets machineID.
func (s *Service) ResetMachine(ctx context.Context, machineID int) (*ActionResult, error) {
	return s.vmAction(ctx, "/vm/reset", machineID)
}

// TerminateMachine stops machineID.
func (s *Service) TerminateMachine(ctx context.Context, machineID int) (*ActionResult, error) {
	return s.vmAction(ctx, "/vm/terminate", machineID)
}

func (s *Service) vmAction(ctx context.Context, endpoint string, machineID int) (*ActionResult, error) {
	if machineID < 1 {
		return nil, ErrInvalidMachineID
	}
	resp, err := s.t.Post(ctx, endpoint, map[string]any{"machine_id": machineID}, api.V4)
	if err != nil {
		return nil, err
	}

	result := &ActionResult{}
	if resp.IsJSON() && len(resp.Raw) > 0 {
		if err := decode(resp, result); err != nil {
			return nil, err
		}
	}
	if result.Message == "" {
		result.Message = defaultActionMessage
	}
	return result, nil
}

// SubmitFlag submits flag for machineID. A wrong flag comes back as a
// FlagResult with Accepted false and a nil error.
func (s *Service) SubmitFlag(ctx context.Context, machineID int, flag string) (*FlagResult, error) {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return nil, ErrEmptyFlag
	}
	if machineID < 1 {
		return nil, ErrInvalidMachineID
	}

	resp, err := s.t.Post(ctx, "/machine/own", map[string]any{"id": machineID, "flag": flag}, api.V5)
	if err != nil {
		return nil, err
	}

	var body struct {
		Success Bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := decode(resp, &body); err != nil {
		return nil, err
	}

	result := &FlagResult{Accepted: bool(body.Success), Message: body.Message}
	if result.Message == "" {
		if result.Accepted {
			result.Message = defaultFlagAccepted
		} else {
			result.Message = defaultFlagRejected
		}
	}
	return result, nil
}

// MachineActivity returns the machine's timeline in service order.
func (s *Service) MachineActivity(ctx context.Context, machineID int) ([]Activity, error) {
	if machineID < 1 {
		return nil, ErrInvalidMachineID
	}
	resp, err := s.t.Get(ctx, "/machine/activity/"+strconv.Itoa(machineID), nil, api.V4)
	if err != nil {
		return nil, err
	}
	var env infoEnvelope[*activityInfo]
	if err := decode(resp, &env); err != nil {
		return nil, err
	}
	if env.Info == nil {
		return nil, fmt.Errorf("%w: missing activity info", ErrInvalidResponse)
	}
	if env.Info.Activity == nil {
		return []Activity{}, nil
	}
	return env.Info.Activity, nil
}

// VPNProfile downloads the OpenVPN profile for serverID.
func (s *Service) VPNProfile(ctx context.Context, serverID int) ([]byte, error) {
	if serverID < 1 {
		return nil, fmt.Errorf("server id must be positive")
	}
	resp, err := s.t.Get(ctx, fmt.Sprintf("/access/ovpnfile/%d/0", serverID), nil, api.V4)
	if err != nil {
		return nil, err
	}
	if resp.IsJSON() {
		return nil, fmt.Errorf("%w: expected a profile file, got JSON", ErrInvalidResponse)
	}
	return resp.Raw, nil
}
