package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rds"
)

var errNoRDSClient = errors.New("no rds client configured")

type dbInstanceDescriber interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

func newRDSClient(ctx context.Context, region string) (dbInstanceDescriber, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return rds.NewFromConfig(cfg), nil
}

type databaseCheck struct {
	Type     string `json:"type"`
	Resource string `json:"resource"`
	Status   int    `json:"status"`
}

type readinessCheck struct {
	Overall  int           `json:"overall"`
	Server   int           `json:"server"`
	Database databaseCheck `json:"database"`
}

// GET /healthcheck/liveness
func (app *App) livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("Ok"))
}

// GET /healthcheck/readiness — deep health check against the database. The
// server part is 200 by construction; the overall status mirrors the
// database status.
func (app *App) readinessHandler(w http.ResponseWriter, r *http.Request) {
	check := readinessCheck{
		Overall: http.StatusServiceUnavailable,
		Server:  http.StatusOK,
		Database: databaseCheck{
			Type:     "sqlite",
			Resource: "sqlite:///" + app.config.DatabasePath,
			Status:   http.StatusServiceUnavailable,
		},
	}

	if !app.cloud.InCloud {
		if _, err := os.Stat(app.config.DatabasePath); err == nil {
			check.Database.Status = http.StatusOK
		}
	} else {
		check.Database.Type = "rds"
		check.Database.Resource = app.config.DBEndpoint
		if status, err := app.rdsInstanceStatus(r.Context()); err == nil && status == "available" {
			check.Database.Status = http.StatusOK
		}
	}
	check.Overall = check.Database.Status

	if check.Overall != http.StatusOK {
		app.log.Warnf("The database '%s' is not ready! status must be 'available'", check.Database.Type)
	} else {
		app.log.Infof("The database '%s' is fully ready!", check.Database.Type)
	}

	writeJSON(w, check.Overall, check)
}

// rdsInstanceStatus finds the managed instance matching the configured
// endpoint and returns its lifecycle status.
func (app *App) rdsInstanceStatus(ctx context.Context) (string, error) {
	if app.rds == nil {
		return "", errNoRDSClient
	}
	out, err := app.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{})
	if err != nil {
		return "", err
	}
	for _, inst := range out.DBInstances {
		if inst.Endpoint != nil && aws.ToString(inst.Endpoint.Address) == app.config.DBEndpoint {
			return aws.ToString(inst.DBInstanceStatus), nil
		}
	}
	return "", nil
}
