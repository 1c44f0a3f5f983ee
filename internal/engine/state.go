package engine

import (
	"golang.org/x/text/message"

	"grimm.is/knockgate/internal/config"
	"grimm.is/knockgate/internal/credentials"
	"grimm.is/knockgate/internal/device"
	"grimm.is/knockgate/internal/i18n"
	"grimm.is/knockgate/internal/reputation"
)

// State is everything one decision reads: the configuration snapshot,
// both tables and the gateway. A State is published whole; the
// configuration and printer are never modified after NewState, the
// tables only under the decision lock.
type State struct {
	Config    *config.Config
	Users     *credentials.Directory
	Addresses *reputation.Store
	Gateway   device.Gateway
	Printer   *message.Printer
}

// NewState assembles a state. A nil address store starts empty.
func NewState(cfg *config.Config, users *credentials.Directory, addrs *reputation.Store, gw device.Gateway) *State {
	if addrs == nil {
		addrs = reputation.NewStore()
	}
	return &State{
		Config:    cfg,
		Users:     users,
		Addresses: addrs,
		Gateway:   gw,
		Printer:   i18n.ForLanguage(cfg.General.Language),
	}
}

// General is shorthand for Config.General.
func (s *State) General() *config.General {
	return s.Config.General
}
