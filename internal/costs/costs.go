package costs

import (
	"encoding/json"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Table maps tool names to the estimated USD cost per unit, in micros.
// A nil or empty table disables estimates.
type Table struct {
	microsPerUnit map[string]int64
}

// defaultKey prices plain generations that carry no tool name.
const defaultKey = "default"

// Load reads a cost table from a JSON file of the form
// {"default": 0.002, "live-audio": 0.011}. Values are USD per unit.
// A missing path or malformed file disables estimates rather than failing.
func Load(path string) *Table {
	path = strings.TrimSpace(path)
	if path == "" {
		return &Table{}
	}
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		log.WithError(errRead).Warnf("cost table: unreadable file %s, estimates disabled", path)
		return &Table{}
	}
	var raw map[string]float64
	if errUnmarshal := json.Unmarshal(data, &raw); errUnmarshal != nil {
		log.WithError(errUnmarshal).Warnf("cost table: malformed file %s, estimates disabled", path)
		return &Table{}
	}
	table := &Table{microsPerUnit: make(map[string]int64, len(raw))}
	for tool, usd := range raw {
		tool = strings.ToLower(strings.TrimSpace(tool))
		if tool == "" || usd < 0 {
			continue
		}
		table.microsPerUnit[tool] = int64(usd * 1_000_000)
	}
	return table
}

// EstimateMicros returns the estimated USD cost in micros for a call.
// Unknown tools fall back to the default entry; zero when no table loaded.
func (t *Table) EstimateMicros(tool string, costUnits int) int64 {
	if t == nil || len(t.microsPerUnit) == 0 || costUnits <= 0 {
		return 0
	}
	perUnit, ok := t.microsPerUnit[strings.ToLower(strings.TrimSpace(tool))]
	if !ok {
		perUnit = t.microsPerUnit[defaultKey]
	}
	return perUnit * int64(costUnits)
}
