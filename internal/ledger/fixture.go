package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/atmx/risk-engine/internal/model"
)

// Fixture is a JSON dump of ledger state used to seed a MemoryLedger.
type Fixture struct {
	Config      model.GlobalConfig                    `json:"config"`
	SpotMarkets []model.SpotMarket                    `json:"spot_markets"`
	PerpMarkets []model.PerpMarket                    `json:"perp_markets"`
	Oracles     map[model.OracleRef]model.OraclePrice `json:"oracles"`
	Accounts    []model.Account                       `json:"accounts"`
}

// Load seeds l with every entity in f.
func (f *Fixture) Load(l *MemoryLedger) {
	l.PutGlobalConfig(f.Config)
	for _, m := range f.SpotMarkets {
		l.PutSpotMarket(m)
	}
	for _, m := range f.PerpMarkets {
		l.PutPerpMarket(m)
	}
	for ref, p := range f.Oracles {
		l.PutOraclePrice(ref, p)
	}
	for i := range f.Accounts {
		l.PutAccount(&f.Accounts[i])
	}
}

// ReadFixture decodes a fixture from r.
func ReadFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &f, nil
}

// NewMemoryLedgerFromFile creates a MemoryLedger seeded from a JSON fixture.
func NewMemoryLedgerFromFile(path string) (*MemoryLedger, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer file.Close()

	f, err := ReadFixture(file)
	if err != nil {
		return nil, err
	}
	l := NewMemoryLedger()
	f.Load(l)
	return l, nil
}
