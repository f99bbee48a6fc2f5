//go:build linux

package netinfo

import "os"

var procNetRoute = "/proc/net/route"

type systemRoutes struct{}

func (systemRoutes) DefaultRoute() (Route, error) {
	data, err := os.ReadFile(procNetRoute)
	if err != nil {
		return Route{}, err
	}
	return parseProcRoute(string(data))
}
