package parsers

import (
	"fmt"

	"github.com/username/coinfolio/backend/src/assets"
	"github.com/username/coinfolio/backend/src/messages"
	"github.com/username/coinfolio/backend/src/parsers/external"
	"github.com/username/coinfolio/backend/src/parsers/poloniex"
)

func GetParser(source string, resolver *assets.Resolver, msgs *messages.Aggregator) (Parser, error) {
	switch source {
	case "poloniex":
		return poloniex.NewParser(resolver, msgs), nil
	case "external":
		return external.NewParser(resolver, msgs), nil
	default:
		return nil, fmt.Errorf("no parser available for source: %s", source)
	}
}
