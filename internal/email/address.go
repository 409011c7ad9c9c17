package email

import (
	"fmt"
	"net/mail"
	"strings"

	"gopkg.in/yaml.v3"
)

// AddressList is a list of addresses formatted as `address`, `name <address>`
// or `"name" <address>`. In configuration it may be written either as one
// comma-separated string or as a sequence.
type AddressList []string

// ParseAddressList splits a comma-separated address list into individual
// addresses, keeping display names.
func ParseAddressList(raw string) AddressList {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		parts := strings.Split(raw, ",")
		result := make(AddressList, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make(AddressList, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, format(addr))
	}
	return result
}

func format(addr *mail.Address) string {
	if addr.Name == "" {
		return addr.Address
	}
	return addr.String()
}

// Addresses returns the bare addresses without display names.
func (l AddressList) Addresses() []string {
	result := make([]string, 0, len(l))
	for _, entry := range l {
		if addr, err := mail.ParseAddress(entry); err == nil {
			result = append(result, addr.Address)
			continue
		}
		result = append(result, entry)
	}
	return result
}

// String joins the list the way it appears in a header.
func (l AddressList) String() string {
	return strings.Join(l, ", ")
}

// UnmarshalText implements encoding.TextUnmarshaler for environment variables.
func (l *AddressList) UnmarshalText(text []byte) error {
	*l = ParseAddressList(string(text))
	return nil
}

// UnmarshalYAML accepts a comma-separated scalar or a sequence of addresses.
func (l *AddressList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = ParseAddressList(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		var result AddressList
		for _, item := range items {
			result = append(result, ParseAddressList(item)...)
		}
		*l = result
		return nil
	default:
		return fmt.Errorf("address list: unexpected YAML node at line %d", node.Line)
	}
}
