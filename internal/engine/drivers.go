package engine

import (
	"fmt"
	"strings"

	"equityaudit/domain/core"
)

// Drivers returns every audit domain in report order.
func Drivers() []Driver {
	return []Driver{VolumeDriver(), CrashDriver(), InfrastructureDriver(), DemandDriver()}
}

// Names lists the registered domain names.
func Names() []string {
	ds := Drivers()
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	return names
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Driver, error) {
	for _, d := range Drivers() {
		if d.Name == name {
			return d, nil
		}
	}
	return Driver{}, fmt.Errorf("%w: %q (known: %s)", core.ErrUnknownDomain, name, strings.Join(Names(), ", "))
}

// Select resolves a list of domain names, keeping registry order and
// ignoring duplicates. An empty list selects every domain.
func Select(names []string) ([]Driver, error) {
	if len(names) == 0 {
		return Drivers(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, err := Lookup(n); err != nil {
			return nil, err
		}
		want[n] = true
	}
	var out []Driver
	for _, d := range Drivers() {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return Drivers(), nil
	}
	return out, nil
}
