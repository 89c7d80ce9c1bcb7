package authcore

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mshop-dev/authcore/bus"
	"github.com/mshop-dev/authcore/gate"
	"github.com/mshop-dev/authcore/kv"
	"github.com/mshop-dev/authcore/leader"
	"github.com/mshop-dev/authcore/permission"
	"github.com/mshop-dev/authcore/token"
)

// Builder assembles an Engine. Configure it, then call Build once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	users  UserDirectory
	roles  RoleDirectory
	log    *slog.Logger
}

// New starts a builder with defaults.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserDirectory(users UserDirectory) *Builder {
	b.users = users
	return b
}

func (b *Builder) WithRoleDirectory(roles RoleDirectory) *Builder {
	b.roles = roles
	return b
}

func (b *Builder) WithLogger(log *slog.Logger) *Builder {
	b.log = log
	return b
}

// Build validates the configuration and wires the components together.
func (b *Builder) Build() (*Engine, error) {
	if err := b.config.validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("build: redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("build: user directory is required")
	}
	if b.roles == nil {
		return nil, errors.New("build: role directory is required")
	}
	log := b.log
	if log == nil {
		log = slog.Default()
	}

	store := kv.NewRedis(b.redis, b.config.Namespace)
	events := bus.New(b.redis, b.config.Namespace+"-channel", log)

	authority, err := token.NewAuthority(token.Config{
		Secret: []byte(b.config.Secret),
		TTL:    b.config.TokenTTL,
		Issuer: b.config.Issuer,
		Policy: b.config.tokenPolicy(),
	}, store, events, log)
	if err != nil {
		return nil, err
	}

	resolver := permission.NewResolver(store, b.roles, b.config.RootRole, events, log)

	return &Engine{
		cfg:       b.config,
		store:     store,
		events:    events,
		authority: authority,
		resolver:  resolver,
		gate:      gate.New(resolver),
		elector:   leader.NewElector(store, b.config.LeaderTTL, log),
		users:     b.users,
		log:       log,
	}, nil
}
