// Package alternatives estimates other ways for a stuck passenger to reach
// the destination and ranks them by arrival time.
package alternatives

import (
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/faslit/internal/units"
)

// Mode is a transport mode.
type Mode string

const (
	ModeWalk          Mode = "walk"
	ModePublicTransit Mode = "public_transit"
	ModeTaxi          Mode = "taxi"
	ModeRideshare     Mode = "rideshare"
	ModeBike          Mode = "bike"
)

// ParseMode decodes a transport mode name, accepting "transit" for public
// transit.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "walk":
		return ModeWalk, true
	case "public_transit", "transit":
		return ModePublicTransit, true
	case "taxi":
		return ModeTaxi, true
	case "rideshare":
		return ModeRideshare, true
	case "bike":
		return ModeBike, true
	}
	return "", false
}

// Option is one alternative-mode estimate.
type Option struct {
	Mode         Mode     `json:"mode"`
	ETAMinutes   int      `json:"eta_minutes"`
	Cost         float64  `json:"cost"`
	DistanceKm   float64  `json:"distance_km"`
	Description  string   `json:"description"`
	Instructions []string `json:"instructions"`
	Confidence   float64  `json:"confidence"`
}

// modeProfile is the fixed speed, wait and fare model for one mode.
type modeProfile struct {
	mode        Mode
	speedKmph   float64
	waitMinutes int
	baseFare    float64
	perKm       float64
	confidence  float64
	// addsStuck is false for modes the passenger starts immediately on foot.
	addsStuck bool
}

var (
	walkProfile    = modeProfile{ModeWalk, 5, 0, 0, 0, 0.95, false}
	transitProfile = modeProfile{ModePublicTransit, 25, 10, 2.5, 0.3, 0.85, true}
	taxiProfile    = modeProfile{ModeTaxi, 40, 5, 5.0, 2.5, 0.90, true}
	rideProfile    = modeProfile{ModeRideshare, 40, 7, 3.5, 2.0, 0.88, true}
	bikeProfile    = modeProfile{ModeBike, 15, 0, 2.0, 0.1, 0.80, false}
)

// Config controls which modes are offered.
type Config struct {
	WalkMaxDistanceKm float64
	IncludeBike       bool
	BikeMaxDistanceKm float64
	MinSavingsMinutes int
}

// DefaultConfig returns the stock estimator settings.
func DefaultConfig() Config {
	return Config{
		WalkMaxDistanceKm: 5,
		BikeMaxDistanceKm: 15,
		MinSavingsMinutes: 5,
	}
}

// Estimator produces ranked transport options.
type Estimator struct {
	cfg Config
}

// NewEstimator creates an Estimator.
func NewEstimator(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

func (p modeProfile) option(distanceKm, stuckMinutes float64) Option {
	eta := units.TravelMinutes(distanceKm, p.speedKmph) + p.waitMinutes
	if p.addsStuck && stuckMinutes > 0 {
		eta += int(stuckMinutes)
	}
	cost := 0.0
	if p.baseFare > 0 || p.perKm > 0 {
		cost = units.RoundCents(p.baseFare + p.perKm*distanceKm)
	}
	return Option{
		Mode:       p.mode,
		ETAMinutes: eta,
		Cost:       cost,
		DistanceKm: distanceKm,
		Confidence: p.confidence,
	}
}

// Suggest returns the available options for the remaining distance, sorted
// by ascending ETA. Ties keep generation order: walk, transit, taxi,
// rideshare, bike.
func (e *Estimator) Suggest(distanceKm, stuckMinutes float64) []Option {
	if distanceKm < 0 {
		distanceKm = 0
	}

	var opts []Option
	if distanceKm <= e.cfg.WalkMaxDistanceKm {
		o := walkProfile.option(distanceKm, stuckMinutes)
		o.Description = fmt.Sprintf("Walk %.1f km to your destination", distanceKm)
		o.Instructions = []string{
			"Exit the vehicle safely on the curb side",
			"Follow pedestrian navigation to your destination",
			"The vehicle will continue autonomously",
		}
		opts = append(opts, o)
	}

	transit := transitProfile.option(distanceKm, stuckMinutes)
	transit.Description = "Take public transit from the nearest stop"
	transit.Instructions = []string{
		"Walk to the nearest transit stop",
		"Board the next service toward your destination",
		"Use your transit card or mobile ticket",
	}
	opts = append(opts, transit)

	taxi := taxiProfile.option(distanceKm, stuckMinutes)
	taxi.Description = fmt.Sprintf("Taxi pickup in about %d minutes", taxiProfile.waitMinutes)
	taxi.Instructions = []string{
		"A taxi will be requested to your location",
		"Wait at a safe pickup point",
		"Confirm the driver and vehicle before boarding",
	}
	opts = append(opts, taxi)

	ride := rideProfile.option(distanceKm, stuckMinutes)
	ride.Description = fmt.Sprintf("Rideshare pickup in about %d minutes", rideProfile.waitMinutes)
	ride.Instructions = []string{
		"Open your rideshare app",
		"Request a ride from your current location",
		"Meet the driver at the pickup point",
	}
	opts = append(opts, ride)

	if e.cfg.IncludeBike && distanceKm <= e.cfg.BikeMaxDistanceKm {
		bike := bikeProfile.option(distanceKm, stuckMinutes)
		bike.Description = "Unlock a shared bike nearby"
		bike.Instructions = []string{
			"Find the nearest bike share dock",
			"Unlock a bike with the app",
			"Ride to your destination",
		}
		opts = append(opts, bike)
	}

	sort.SliceStable(opts, func(i, j int) bool {
		return opts[i].ETAMinutes < opts[j].ETAMinutes
	})
	return opts
}

// Comparison is an option together with the time it saves over staying.
type Comparison struct {
	Option           Option `json:"option"`
	TimeSavedMinutes int    `json:"time_saved_minutes"`
}

// CompareToStaying keeps only options that beat staying in the vehicle
// (currentETA + delayEstimate) by more than MinSavingsMinutes. Input order
// is preserved.
func (e *Estimator) CompareToStaying(options []Option, currentETA, delayEstimate int) []Comparison {
	staying := currentETA + delayEstimate
	var out []Comparison
	for _, o := range options {
		saved := staying - o.ETAMinutes
		if saved > e.cfg.MinSavingsMinutes {
			out = append(out, Comparison{Option: o, TimeSavedMinutes: saved})
		}
	}
	return out
}

// Best returns the fastest option.
func Best(options []Option) (Option, bool) {
	if len(options) == 0 {
		return Option{}, false
	}
	best := options[0]
	for _, o := range options[1:] {
		if o.ETAMinutes < best.ETAMinutes {
			best = o
		}
	}
	return best, true
}
