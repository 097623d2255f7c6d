package rate

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed tariff.yaml
var yupackTariff []byte

var (
	// ErrNoTierFits is returned when a parcel exceeds every size tier.
	ErrNoTierFits = errors.New("no size tier fits parcel")
	// ErrRateNotFound signals a hole in the rate table or an unknown destination.
	ErrRateNotFound = errors.New("rate not found")
	// ErrInvalidTariff is returned when a tariff document fails validation.
	ErrInvalidTariff = errors.New("invalid tariff")
)

// NoTierFitsError carries the measurements that could not be placed in any tier.
type NoTierFitsError struct {
	TotalDimension float64
	TotalWeight    int64
}

func (e *NoTierFitsError) Error() string {
	return fmt.Sprintf("shipment exceeds the largest size tier (total dimension %gcm, weight %dg)", e.TotalDimension, e.TotalWeight)
}

func (e *NoTierFitsError) Is(target error) bool { return target == ErrNoTierFits }

// Tier is a carrier parcel size class.
type Tier struct {
	Size         int     `json:"size" yaml:"size"`
	MaxDimension float64 `json:"max_dimension" yaml:"max_dimension"`
	MaxWeight    int64   `json:"max_weight" yaml:"max_weight"`
}

// Pricing holds the flat business constants layered on top of base rates.
type Pricing struct {
	ExpressSurcharge  int64
	FragileSurcharge  int64
	DiscountThreshold int64
	DiscountAmount    int64
	TaxRate           decimal.Decimal
}

// Tariff is an immutable, validated carrier rate table.
type Tariff struct {
	carrier     string
	currency    string
	tiers       []Tier
	rates       map[int]map[string]int64 // tier size -> zone -> rate
	zones       []string
	prefectures map[string]string // normalized name -> zone
	pricing     Pricing
}

type tariffDoc struct {
	Carrier     string                   `yaml:"carrier"`
	Currency    string                   `yaml:"currency"`
	Tiers       []Tier                   `yaml:"tiers"`
	Zones       map[string]map[int]int64 `yaml:"zones"`
	Prefectures map[string]string        `yaml:"prefectures"`
	Pricing     struct {
		ExpressSurcharge  int64  `yaml:"express_surcharge"`
		FragileSurcharge  int64  `yaml:"fragile_surcharge"`
		DiscountThreshold int64  `yaml:"discount_threshold"`
		DiscountAmount    int64  `yaml:"discount_amount"`
		TaxRate           string `yaml:"tax_rate"`
	} `yaml:"pricing"`
}

// NewByName returns the built-in tariff for a carrier.
// Only "yupack" ships today; an empty name selects it.
func NewByName(name string) (*Tariff, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "yupack", "":
		return Parse(yupackTariff)
	default:
		return nil, fmt.Errorf("%w: unknown carrier %q", ErrInvalidTariff, name)
	}
}

// LoadFile reads and validates a tariff document from disk.
func LoadFile(path string) (*Tariff, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load reads and validates a tariff document.
func Load(r io.Reader) (*Tariff, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a YAML tariff and checks it for completeness.
func Parse(b []byte) (*Tariff, error) {
	var doc tariffDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTariff, err)
	}
	return build(doc)
}

func build(doc tariffDoc) (*Tariff, error) {
	if len(doc.Tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrInvalidTariff)
	}
	if len(doc.Zones) == 0 {
		return nil, fmt.Errorf("%w: no zones", ErrInvalidTariff)
	}

	tiers := make([]Tier, len(doc.Tiers))
	copy(tiers, doc.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Size < tiers[j].Size })
	for i, t := range tiers {
		if t.MaxDimension <= 0 || t.MaxWeight <= 0 {
			return nil, fmt.Errorf("%w: tier %d has non-positive bounds", ErrInvalidTariff, t.Size)
		}
		if i == 0 {
			continue
		}
		prev := tiers[i-1]
		if t.Size == prev.Size {
			return nil, fmt.Errorf("%w: duplicate tier %d", ErrInvalidTariff, t.Size)
		}
		if t.MaxDimension < prev.MaxDimension || t.MaxWeight < prev.MaxWeight {
			return nil, fmt.Errorf("%w: tier %d bounds smaller than tier %d", ErrInvalidTariff, t.Size, prev.Size)
		}
	}

	zones := make([]string, 0, len(doc.Zones))
	rates := make(map[int]map[string]int64, len(tiers))
	for _, t := range tiers {
		rates[t.Size] = make(map[string]int64, len(doc.Zones))
	}
	for zone, byTier := range doc.Zones {
		zones = append(zones, zone)
		for _, t := range tiers {
			amount, ok := byTier[t.Size]
			if !ok {
				return nil, fmt.Errorf("%w: zone %s has no rate for tier %d", ErrInvalidTariff, zone, t.Size)
			}
			if amount < 0 {
				return nil, fmt.Errorf("%w: zone %s tier %d has negative rate", ErrInvalidTariff, zone, t.Size)
			}
			rates[t.Size][zone] = amount
		}
		for size := range byTier {
			if _, ok := rates[size]; !ok {
				return nil, fmt.Errorf("%w: zone %s prices undeclared tier %d", ErrInvalidTariff, zone, size)
			}
		}
	}
	sort.Strings(zones)

	prefectures := make(map[string]string, len(doc.Prefectures)*2)
	for name, zone := range doc.Prefectures {
		if _, ok := doc.Zones[zone]; !ok {
			return nil, fmt.Errorf("%w: prefecture %s maps to unknown zone %s", ErrInvalidTariff, name, zone)
		}
		key := NormalizePrefecture(name)
		prefectures[key] = zone
		if short := trimSuffix(key); short != key {
			if _, taken := prefectures[short]; !taken {
				prefectures[short] = zone
			}
		}
	}

	p := doc.Pricing
	taxRate := decimal.Zero
	if strings.TrimSpace(p.TaxRate) != "" {
		var err error
		taxRate, err = decimal.NewFromString(strings.TrimSpace(p.TaxRate))
		if err != nil {
			return nil, fmt.Errorf("%w: tax_rate: %v", ErrInvalidTariff, err)
		}
	}
	if p.ExpressSurcharge < 0 || p.FragileSurcharge < 0 || p.DiscountAmount < 0 || p.DiscountThreshold < 0 || taxRate.IsNegative() {
		return nil, fmt.Errorf("%w: pricing constants must not be negative", ErrInvalidTariff)
	}

	currency := strings.ToUpper(strings.TrimSpace(doc.Currency))
	if currency == "" {
		currency = "JPY"
	}

	return &Tariff{
		carrier:     doc.Carrier,
		currency:    currency,
		tiers:       tiers,
		rates:       rates,
		zones:       zones,
		prefectures: prefectures,
		pricing: Pricing{
			ExpressSurcharge:  p.ExpressSurcharge,
			FragileSurcharge:  p.FragileSurcharge,
			DiscountThreshold: p.DiscountThreshold,
			DiscountAmount:    p.DiscountAmount,
			TaxRate:           taxRate,
		},
	}, nil
}

func (t *Tariff) Carrier() string  { return t.carrier }
func (t *Tariff) Currency() string { return t.currency }
func (t *Tariff) Pricing() Pricing { return t.pricing }

// Tiers returns the size tiers in ascending order.
func (t *Tariff) Tiers() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Zones returns the delivery zone names in lexical order.
func (t *Tariff) Zones() []string {
	out := make([]string, len(t.zones))
	copy(out, t.zones)
	return out
}

// SelectTier returns the smallest tier whose bounds hold both the total
// dimension and the total weight.
func (t *Tariff) SelectTier(totalDimension float64, totalWeight int64) (Tier, error) {
	for _, tier := range t.tiers {
		if totalDimension <= tier.MaxDimension && totalWeight <= tier.MaxWeight {
			return tier, nil
		}
	}
	return Tier{}, &NoTierFitsError{TotalDimension: totalDimension, TotalWeight: totalWeight}
}

// Zone resolves a prefecture name to its delivery zone.
func (t *Tariff) Zone(prefecture string) (string, bool) {
	zone, ok := t.prefectures[NormalizePrefecture(prefecture)]
	return zone, ok
}

// BaseRate returns the carrier price for a tier delivered to a prefecture.
func (t *Tariff) BaseRate(tier Tier, prefecture string) (int64, error) {
	byZone, ok := t.rates[tier.Size]
	if !ok {
		return 0, fmt.Errorf("%w: tier %d", ErrRateNotFound, tier.Size)
	}
	zone, ok := t.Zone(prefecture)
	if !ok {
		return 0, fmt.Errorf("%w: destination %q", ErrRateNotFound, prefecture)
	}
	amount, ok := byZone[zone]
	if !ok {
		return 0, fmt.Errorf("%w: tier %d zone %s", ErrRateNotFound, tier.Size, zone)
	}
	return amount, nil
}

// NormalizePrefecture folds width variants and surrounding space so that
// form input such as "　東京都 " matches the table key.
func NormalizePrefecture(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

func trimSuffix(name string) string {
	if name == "北海道" {
		return name
	}
	for _, suffix := range []string{"都", "府", "県"} {
		if trimmed := strings.TrimSuffix(name, suffix); trimmed != name && trimmed != "" {
			return trimmed
		}
	}
	return name
}
