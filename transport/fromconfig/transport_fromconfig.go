// Package fromconfig instantiates transports based on config structures
// (see package config).
package fromconfig

import (
	"fmt"

	"github.com/mteguhsat/aetros-cli/config"
	"github.com/mteguhsat/aetros-cli/transport"
	"github.com/mteguhsat/aetros-cli/transport/native"
	"github.com/mteguhsat/aetros-cli/transport/ssh"
	"github.com/mteguhsat/aetros-cli/transport/stdinserver"
)

func ProviderFromConfig(in config.ConnectEnum) (transport.Provider, error) {
	var (
		provider transport.Provider
		err      error
	)
	switch v := in.Ret.(type) {
	case *config.SSHConnect:
		provider, err = ssh.ProviderFromConfig(v)
	case *config.SSHNativeConnect:
		provider, err = native.ProviderFromConfig(v)
	case *config.SSHStdinserverConnect:
		provider, err = stdinserver.ProviderFromConfig(v)
	default:
		panic(fmt.Sprintf("implementation error: unknown connect type %T", v))
	}

	return provider, err
}
