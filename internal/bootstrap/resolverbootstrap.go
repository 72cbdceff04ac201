package bootstrap

import (
	"chorddht/internal/bootstrap/register"
	"chorddht/internal/config"
	"chorddht/internal/domain"
	"chorddht/internal/logger"
	"context"
	"fmt"
	"net"
)

// ResolverBootstrap discovers peers through ResolveBootstrap (a static
// peer list or a DNS/SRV lookup) and, when cfg.Register.Enabled, self
// registers through a Registrar backend (Route53 or CoreDNS/etcd) so
// that other nodes resolving the same name can find it. Discovery and
// registration are independent: a static/dns deployment can run with
// Register disabled if peers are seeded some other way.
type ResolverBootstrap struct {
	cfg config.BootstrapConfig
	lgr logger.Logger
	reg register.Registrar // nil when registration is disabled
}

// NewResolverBootstrap builds a ResolverBootstrap for cfg.Mode in
// {static, dns}. It opens the configured Registrar backend eagerly so
// that a misconfigured one fails fast at startup rather than at the
// first Register call.
func NewResolverBootstrap(cfg config.BootstrapConfig, lgr logger.Logger) (*ResolverBootstrap, error) {
	rb := &ResolverBootstrap{cfg: cfg, lgr: lgr}
	if cfg.Register.Enabled {
		reg, err := register.NewRegistrar(context.Background(), cfg.Register)
		if err != nil {
			return nil, fmt.Errorf("resolver bootstrap: init registrar: %w", err)
		}
		rb.reg = reg
	}
	return rb, nil
}

func (r *ResolverBootstrap) Discover(ctx context.Context) ([]string, error) {
	return ResolveBootstrap(r.cfg, r.lgr)
}

func (r *ResolverBootstrap) Register(ctx context.Context, node *domain.Node) error {
	if r.reg == nil {
		return nil
	}
	host, port, err := splitHostPortInt(node.Addr)
	if err != nil {
		return err
	}
	return r.reg.RegisterNode(ctx, node.ID.ToHexString(true), host, port)
}

func (r *ResolverBootstrap) Deregister(ctx context.Context, node *domain.Node) error {
	if r.reg == nil {
		return nil
	}
	host, port, err := splitHostPortInt(node.Addr)
	if err != nil {
		return err
	}
	return r.reg.DeregisterNode(ctx, node.ID.ToHexString(true), host, port)
}

func splitHostPortInt(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("split addr %q: %w", addr, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("parse port %q: %w", portStr, err)
	}
	return host, port, nil
}
