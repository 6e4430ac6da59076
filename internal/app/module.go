// Package app composes the messaging engine and its collaborators into an
// fx application for the claimchatd daemon.
package app

import (
	"context"

	"github.com/lfarroco/claimchat/internal/bus"
	"github.com/lfarroco/claimchat/internal/config"
	"github.com/lfarroco/claimchat/internal/logging"
	"github.com/lfarroco/claimchat/internal/push"
	"github.com/lfarroco/claimchat/internal/rest"
	"github.com/lfarroco/claimchat/internal/status"
	intsync "github.com/lfarroco/claimchat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("claimchat",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideRestClient,
			providePushChannel,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.Config.Log.Path, p.Config.Session.UserID)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideRestClient(p Params) *rest.Client {
	return rest.NewClient(p.Config.Server.BaseURL, p.Config.Server.Token)
}

func providePushChannel(p Params, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *push.Channel {
	return push.NewChannel(p.Config.Server.SocketURL, p.Config.Server.Token, b, machine, logger)
}

func provideEngine(p Params, client *rest.Client, channel *push.Channel, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(client, channel, b, machine, logger, intsync.Options{
		SelfID:              p.Config.Session.UserID,
		SelfName:            p.Config.Session.UserName,
		HistoryLimit:        p.Config.Messaging.HistoryLimit,
		TypingDebounce:      p.Config.TypingDebounce(),
		TypingRemoteTimeout: p.Config.TypingRemoteTimeout(),
	})
}

func registerLifecycle(lc fx.Lifecycle, engine *intsync.Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := engine.Start(ctx); err != nil {
				return err
			}
			logger.Info("engine started")
			return nil
		},
		OnStop: func(context.Context) error {
			engine.Close()
			logger.Info("engine stopped")
			return nil
		},
	})
}
