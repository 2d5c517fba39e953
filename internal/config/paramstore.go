package config

import (
	"context"
	"errors"
	"strings"

	"compensation-checker/internal/integrations/paramstore"
)

type paramSource struct {
	getter paramstore.Getter
	prefix string
}

// ParamStore returns a Source that reads <prefix>/<key lower-cased> from SSM
// Parameter Store. Parameters that do not exist are reported as not set.
func ParamStore(getter paramstore.Getter, prefix string) (Source, error) {
	if getter == nil {
		return nil, errors.New("config: paramstore getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("config: parameter prefix must not be empty")
	}
	return &paramSource{getter: getter, prefix: prefix}, nil
}

func (p *paramSource) Lookup(ctx context.Context, key string) (string, bool, error) {
	v, err := p.getter.GetParameter(ctx, p.parameterName(key))
	if errors.Is(err, paramstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (p *paramSource) parameterName(key string) string {
	return p.prefix + "/" + strings.ToLower(key)
}
