package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTiers retorna os tiers padrão, do menor para o maior.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "minute", Window: time.Minute, Max: 10},
		{Name: "hour", Window: time.Hour, Max: 50},
		{Name: "day", Window: 24 * time.Hour, Max: 200},
	}
}

// ValidateTiers garante um conjunto de tiers utilizável: ao menos um tier,
// nomes únicos e não vazios, janela e máximo positivos.
func ValidateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}
	seen := make(map[string]struct{}, len(tiers))
	for _, t := range tiers {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("tier name cannot be empty")
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate tier %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		if t.Window <= 0 {
			return fmt.Errorf("tier %q: window must be > 0, got %s", t.Name, t.Window)
		}
		if t.Max <= 0 {
			return fmt.Errorf("tier %q: max must be > 0, got %d", t.Name, t.Max)
		}
	}
	return nil
}

// ParseTiers lê tiers no formato NAME:MAX:WINDOW separados por vírgula,
// ex: "minute:10:1m,hour:50:1h,day:200:24h". A ordem da string é a ordem de
// prioridade.
func ParseTiers(raw string) ([]Tier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultTiers(), nil
	}

	var tiers []Tier
	for _, item := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("tier must follow NAME:MAX:WINDOW: %q", item)
		}

		name := strings.TrimSpace(parts[0])
		max, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid max for tier %s: %w", name, err)
		}
		window, err := time.ParseDuration(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("invalid window for tier %s: %w", name, err)
		}

		tiers = append(tiers, Tier{Name: name, Window: window, Max: max})
	}

	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}
