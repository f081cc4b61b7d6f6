package firstparty_client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcdev12/tandem/go/clients"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocate(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantCity string
		wantFail bool
	}{
		{name: "valid", status: http.StatusOK, body: `{"lat":52.52,"lng":13.405,"city":"Berlin"}`, wantCity: "Berlin"},
		{name: "string coordinates", status: http.StatusOK, body: `{"lat":"52.52","lng":"13.405"}`, wantCity: ""},
		{name: "absent fields", status: http.StatusOK, body: `{}`, wantErr: clients.ErrInvalidCoordinate},
		{name: "zero coordinates", status: http.StatusOK, body: `{"lat":0,"lng":0,"city":"Null Island"}`, wantErr: clients.ErrInvalidCoordinate},
		{name: "server error", status: http.StatusBadGateway, body: `bad gateway`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, GeoEndpoint, r.URL.Path)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			loc, err := NewFirstPartyClient(srv.URL).Locate(context.Background())
			if tt.wantFail || tt.wantErr != nil || tt.status != http.StatusOK {
				require.Error(t, err)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCity, loc.City)
			assert.NotZero(t, loc.Lat)
			assert.NotZero(t, loc.Lng)
		})
	}
}
