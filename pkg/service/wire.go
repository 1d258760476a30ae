//go:build wireinject
// +build wireinject

package service

import (
	"github.com/google/wire"

	"github.com/campuslink/confcore/pkg/config"
)

func InitializeServer(conf *config.Config) (*AgentServer, error) {
	wire.Build(
		ServiceSet,
	)
	return &AgentServer{}, nil
}
