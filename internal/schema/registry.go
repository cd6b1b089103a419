package schema

import "fmt"

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=8 means the integer value is scaled by 1e8.
type Scale int32

// ScaleSpec defines scaling for common numeric fields.
type ScaleSpec struct {
	PriceScale    Scale `json:"priceScale" yaml:"priceScale"`
	QuantityScale Scale `json:"quantityScale" yaml:"quantityScale"`
	NotionalScale Scale `json:"notionalScale" yaml:"notionalScale"`
	FeeScale      Scale `json:"feeScale" yaml:"feeScale"`
}

// AssetID is the numeric identifier for a balance asset.
type AssetID uint16

// InstrumentID is the numeric identifier for a tradable instrument.
// IDs are dense and assigned at load time so lookups are array offsets.
type InstrumentID uint32

// Asset describes a balance currency.
type Asset struct {
	ID   AssetID
	Name string
}

// Instrument describes a tradable instrument and its venue constraints.
type Instrument struct {
	ID          InstrumentID
	Name        string
	Base        AssetID
	Quote       AssetID
	TickSize    Price
	LotSize     Quantity
	MakerFeeBps int32
	TakerFeeBps int32
	Scale       ScaleSpec
}

// Registry stores asset and instrument mappings in a compact form.
// It is loaded once at startup and read-only afterwards.
type Registry struct {
	assets           []Asset
	instruments      []Instrument
	assetByName      map[string]AssetID
	instrumentByName map[string]InstrumentID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		assetByName:      make(map[string]AssetID),
		instrumentByName: make(map[string]InstrumentID),
	}
}

// AddAsset registers a new asset and returns its ID.
func (r *Registry) AddAsset(name string) (AssetID, error) {
	if name == "" {
		return 0, fmt.Errorf("asset name is empty")
	}
	if id, ok := r.assetByName[name]; ok {
		return id, fmt.Errorf("asset already exists: %s", name)
	}
	id := AssetID(len(r.assets) + 1)
	r.assets = append(r.assets, Asset{ID: id, Name: name})
	r.assetByName[name] = id
	return id, nil
}

// AddInstrument registers a new instrument and returns its ID.
func (r *Registry) AddInstrument(inst Instrument) (InstrumentID, error) {
	if inst.Name == "" {
		return 0, fmt.Errorf("instrument name is empty")
	}
	if _, ok := r.Asset(inst.Base); !ok {
		return 0, fmt.Errorf("base asset not found: %d", inst.Base)
	}
	if _, ok := r.Asset(inst.Quote); !ok {
		return 0, fmt.Errorf("quote asset not found: %d", inst.Quote)
	}
	if inst.TickSize <= 0 || inst.LotSize <= 0 {
		return 0, fmt.Errorf("instrument %s: tickSize and lotSize must be > 0", inst.Name)
	}
	if id, ok := r.instrumentByName[inst.Name]; ok {
		return id, fmt.Errorf("instrument already exists: %s", inst.Name)
	}
	inst.ID = InstrumentID(len(r.instruments) + 1)
	r.instruments = append(r.instruments, inst)
	r.instrumentByName[inst.Name] = inst.ID
	return inst.ID, nil
}

// Asset returns the asset by ID.
func (r *Registry) Asset(id AssetID) (Asset, bool) {
	if id == 0 || int(id) > len(r.assets) {
		return Asset{}, false
	}
	return r.assets[id-1], true
}

// Instrument returns the instrument by ID.
func (r *Registry) Instrument(id InstrumentID) (Instrument, bool) {
	if id == 0 || int(id) > len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[id-1], true
}

// InstrumentCount returns the number of instruments in the registry.
func (r *Registry) InstrumentCount() int {
	return len(r.instruments)
}

// InstrumentAt returns the instrument by zero-based index.
func (r *Registry) InstrumentAt(index int) (Instrument, bool) {
	if index < 0 || index >= len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[index], true
}

// AssetIDByName returns the asset ID for a name.
func (r *Registry) AssetIDByName(name string) (AssetID, bool) {
	id, ok := r.assetByName[name]
	return id, ok
}

// InstrumentIDByName returns the instrument ID for a name.
func (r *Registry) InstrumentIDByName(name string) (InstrumentID, bool) {
	id, ok := r.instrumentByName[name]
	return id, ok
}
