package starlink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection/grpc_reflection_v1alpha"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

// ProviderName is stamped on every fix read from the dish
const ProviderName = "starlink"

const handleMethod = "SpaceX.API.Device.Device/Handle"

// Client talks to the dish gRPC API through server reflection
type Client struct {
	host    string
	port    int
	timeout time.Duration
	logger  *logx.Logger
	now     func() time.Time
}

// NewClient creates a new Starlink API client
func NewClient(host string, port int, timeout time.Duration, logger *logx.Logger) *Client {
	return &Client{
		host:    host,
		port:    port,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// APIMethod is a request name accepted by the Handle RPC
type APIMethod string

const (
	MethodGetStatus   APIMethod = "get_status"
	MethodGetLocation APIMethod = "get_location"
)

// CallMethod calls a Starlink gRPC method and returns the JSON response
func (c *Client) CallMethod(ctx context.Context, method APIMethod) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, fmt.Sprintf("%s:%d", c.host, c.port),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("failed to connect to Starlink API: %w", err)
	}
	defer conn.Close()

	// the dish does not ship its protos, descriptors come from reflection
	reflectionClient := grpcreflect.NewClient(ctx, grpc_reflection_v1alpha.NewServerReflectionClient(conn))
	defer reflectionClient.Reset()
	descSource := grpcurl.DescriptorSourceFromServer(ctx, reflectionClient)

	requestJSON := fmt.Sprintf(`{"%s":{}}`, string(method))
	resolver := grpcurl.AnyResolverFromDescriptorSource(descSource)
	requestReader := grpcurl.NewJSONRequestParser(strings.NewReader(requestJSON), resolver)

	var responseBuffer strings.Builder
	handler := &grpcurl.DefaultEventHandler{
		Out:       &responseBuffer,
		Formatter: grpcurl.NewJSONFormatter(false, resolver),
	}

	if err := grpcurl.InvokeRPC(ctx, descSource, conn, handleMethod, nil, handler, requestReader.Next); err != nil {
		return "", fmt.Errorf("gRPC call failed: %w", err)
	}
	if handler.Status != nil && handler.Status.Err() != nil {
		return "", fmt.Errorf("gRPC call failed: %w", handler.Status.Err())
	}

	c.logger.LogDebugVerbose("starlink_method_success", map[string]interface{}{
		"method":        string(method),
		"response_size": responseBuffer.Len(),
	})
	return responseBuffer.String(), nil
}

// GetLocation reads the dish position as a location fix
func (c *Client) GetLocation(ctx context.Context) (pkg.LocationFix, error) {
	response, err := c.CallMethod(ctx, MethodGetLocation)
	if err != nil {
		return pkg.LocationFix{}, err
	}
	return parseLocation([]byte(response), c.now())
}

// GetGPSStats reads the receiver state from get_status
func (c *Client) GetGPSStats(ctx context.Context) (GPSStats, error) {
	response, err := c.CallMethod(ctx, MethodGetStatus)
	if err != nil {
		return GPSStats{}, err
	}

	var status StatusResponse
	if err := json.Unmarshal([]byte(response), &status); err != nil {
		return GPSStats{}, fmt.Errorf("failed to parse status response: %w", err)
	}
	return status.DishGetStatus.GPSStats, nil
}

func parseLocation(data []byte, at time.Time) (pkg.LocationFix, error) {
	var resp LocationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return pkg.LocationFix{}, fmt.Errorf("failed to parse location response: %w", err)
	}

	lla := resp.GetLocation.LLA
	if lla.Lat == 0 && lla.Lon == 0 {
		return pkg.LocationFix{}, ErrNoPosition
	}

	return pkg.LocationFix{
		Latitude:  lla.Lat,
		Longitude: lla.Lon,
		Accuracy:  float32(resp.GetLocation.SigmaM),
		Timestamp: at.UnixMilli(),
		Provider:  ProviderName,
	}, nil
}
