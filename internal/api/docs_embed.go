//go:build embed_openapi

package api

import "partsopt/openapi"

func openAPILoad() ([]byte, error) { return openapi.Spec, nil }
