package flashroute

import (
	"fmt"

	flashcommand "github.com/goliatone/go-flashroute/command"
	flashquery "github.com/goliatone/go-flashroute/query"
)

type Commands struct {
	InitiateBorrow *flashcommand.InitiateBorrowCommand
}

type Queries struct {
	ListProtocols    *flashquery.ListProtocolsQuery
	DescribeProtocol *flashquery.DescribeProtocolQuery
}

// Facade bundles the command and query handlers for hosts that mount them
// on their own bus.
type Facade struct {
	borrow   flashcommand.BorrowService
	catalog  flashquery.ProtocolCatalog
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	catalog flashquery.ProtocolCatalog
}

// WithCatalog overrides the protocol catalog. By default the borrow service
// is used when it also lists protocols.
func WithCatalog(catalog flashquery.ProtocolCatalog) FacadeOption {
	return func(options *facadeOptions) {
		options.catalog = catalog
	}
}

func NewFacade(borrow flashcommand.BorrowService, opts ...FacadeOption) (*Facade, error) {
	if borrow == nil {
		return nil, fmt.Errorf("flashroute: borrow service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	catalog := cfg.catalog
	if catalog == nil {
		catalog = resolveCatalog(borrow)
	}
	if catalog == nil {
		return nil, fmt.Errorf("flashroute: protocol catalog is required")
	}

	facade := &Facade{borrow: borrow, catalog: catalog}
	facade.commands = Commands{
		InitiateBorrow: flashcommand.NewInitiateBorrowCommand(borrow),
	}
	facade.queries = Queries{
		ListProtocols:    flashquery.NewListProtocolsQuery(catalog),
		DescribeProtocol: flashquery.NewDescribeProtocolQuery(catalog),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) BorrowService() flashcommand.BorrowService {
	if f == nil {
		return nil
	}
	return f.borrow
}

func resolveCatalog(borrow flashcommand.BorrowService) flashquery.ProtocolCatalog {
	if catalog, ok := borrow.(flashquery.ProtocolCatalog); ok {
		return catalog
	}
	return nil
}
