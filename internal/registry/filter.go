package registry

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"bridgewatch/internal/model"
)

// Filter is a set of transaction types. Empty means every type.
type Filter = mapset.Set[model.TxType]

// ParseFilter parses filter arguments. "all" clears the filter; names are
// matched case-insensitively and may be separated by spaces or commas.
func ParseFilter(args []string) (Filter, error) {
	filter := model.NewFilter()
	var names []string
	for _, arg := range args {
		names = append(names, strings.FieldsFunc(arg, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})...)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no transaction types given, allowed: all, %s", allowedNames())
	}

	for _, name := range names {
		if strings.EqualFold(name, "all") {
			if len(names) > 1 {
				return nil, fmt.Errorf("all cannot be combined with other types")
			}
			return filter, nil
		}
		t, ok := model.ParseTxType(name)
		if !ok {
			return nil, fmt.Errorf("invalid transaction type %q, allowed: all, %s", name, allowedNames())
		}
		filter.Add(t)
	}
	return filter, nil
}

func allowedNames() string {
	types := model.AllTxTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
