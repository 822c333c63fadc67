package sl_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/billing-reconciler/internal/lib/sl"
)

func TestErr_ReturnsCorrectAttr(t *testing.T) {
	err := fmt.Errorf("reconciler.Reconcile: %w", errors.New("stripe unavailable"))
	attr := sl.Err(err)

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, slog.StringValue("reconciler.Reconcile: stripe unavailable"), attr.Value)
}

func TestErr_NilError(t *testing.T) {
	assert.NotPanics(t, func() {
		attr := sl.Err(nil)
		assert.Equal(t, "error", attr.Key)
	})
}

func TestNew_Env(t *testing.T) {
	tests := []struct {
		env       string
		debug     bool
		jsonStart bool
	}{
		{env: sl.EnvLocal, debug: true},
		{env: sl.EnvDev},
		{env: sl.EnvProd, jsonStart: true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			var buf bytes.Buffer
			log := sl.New(tt.env, &buf)

			assert.Equal(t, tt.debug, log.Enabled(context.Background(), slog.LevelDebug))
			log.Info("sweep finished")
			if tt.jsonStart {
				assert.Equal(t, byte('{'), buf.Bytes()[0])
			} else {
				assert.Contains(t, buf.String(), "msg=\"sweep finished\"")
			}
		})
	}
}
