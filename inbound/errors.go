package inbound

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

// buildError assembles the package's rich-error envelope. A nil source makes
// a fresh error, otherwise the source is wrapped so callers can unwrap it.
func buildError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(source, category, message)
	}
	err = err.WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	return buildError(nil, category, message, code, textCode, metadata)
}

func inboundWrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) error {
	return buildError(source, category, message, code, textCode, metadata)
}

func inboundBadInput(message string, metadata map[string]any) error {
	return inboundError(message, goerrors.CategoryBadInput, http.StatusBadRequest, core.RelayErrorBadInput, metadata)
}

func inboundInternal(message string, metadata map[string]any) error {
	return inboundError(message, goerrors.CategoryInternal, http.StatusInternalServerError, core.RelayErrorInternal, metadata)
}
