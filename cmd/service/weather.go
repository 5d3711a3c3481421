package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/garden-weather-service/internal/client"
	"github.com/kjstillabower/garden-weather-service/internal/validation"
)

// newWeatherCmd fetches one reading straight from the provider, bypassing cache and store.
func newWeatherCmd() *cobra.Command {
	var (
		lat, lon float64
		baseURL  string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "weather",
		Short: "Fetch the current reading for a coordinate and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := validation.CoordinateFromFields(&lat, &lon)
			if err != nil {
				return err
			}
			provider := client.NewOpenMeteoClient(client.Options{BaseURL: baseURL, Timeout: timeout})
			reading, err := provider.Fetch(cmd.Context(), coord)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reading)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude in degrees")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude in degrees")
	cmd.Flags().StringVar(&baseURL, "url", client.DefaultBaseURL, "forecast API URL")
	cmd.Flags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "provider request timeout")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}
