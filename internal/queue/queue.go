// Package queue defines mirror jobs, the transport they travel over and the
// dispatcher that hands delivered jobs to handlers.
package queue

import (
	"context"
	"fmt"
	"time"
)

// Type names a job.
type Type string

const (
	RefreshPackages           Type = "refresh-packages"
	RefreshPackage            Type = "refresh-package"
	DeletePackage             Type = "delete-package"
	DeletePackages            Type = "delete-packages"
	BuildPackageVersionsCache Type = "build-package-versions-cache"
)

// Job is the payload of one queued message. Fields not used by a job type
// are left empty.
type Job struct {
	Type          Type   `json:"type" cbor:"type"`
	RepositoryURL string `json:"repository_url,omitempty" cbor:"repository_url,omitempty"`
	Identifier    string `json:"identifier,omitempty" cbor:"identifier,omitempty"`
	Version       string `json:"version,omitempty" cbor:"version,omitempty"`
	Name          string `json:"name,omitempty" cbor:"name,omitempty"`
	Force         bool   `json:"force,omitempty" cbor:"force,omitempty"`
	RetryDelay    int    `json:"retry_delay,omitempty" cbor:"retry_delay,omitempty"` // seconds accumulated by retries
}

// Clone returns a copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}

func (j *Job) String() string {
	switch j.Type {
	case RefreshPackages:
		return fmt.Sprintf("%s(%s)", j.Type, j.RepositoryURL)
	case RefreshPackage:
		return fmt.Sprintf("%s(%s@%s)", j.Type, j.RepositoryURL, j.Version)
	case DeletePackage:
		return fmt.Sprintf("%s(%s@%s)", j.Type, j.Name, j.Version)
	default:
		return fmt.Sprintf("%s(%s)", j.Type, j.Name)
	}
}

func NewRefreshPackages(url string, force bool) *Job {
	return &Job{Type: RefreshPackages, RepositoryURL: url, Force: force}
}

func NewRefreshPackage(url, identifier, version string, force bool) *Job {
	return &Job{Type: RefreshPackage, RepositoryURL: url, Identifier: identifier, Version: version, Force: force}
}

func NewDeletePackage(name, version string) *Job {
	return &Job{Type: DeletePackage, Name: name, Version: version}
}

func NewDeletePackages(name string) *Job {
	return &Job{Type: DeletePackages, Name: name}
}

func NewBuildPackageVersionsCache(name string) *Job {
	return &Job{Type: BuildPackageVersionsCache, Name: name}
}

// Transport sends jobs for later delivery. A delay postpones visibility.
type Transport interface {
	Send(ctx context.Context, job *Job, delay time.Duration) error
	SendBatch(ctx context.Context, jobs []*Job, delay time.Duration) error
}

// Handler processes delivered jobs. Finish is called once after every
// batch the handler took part in.
type Handler interface {
	Supports(job *Job) bool
	Handle(ctx context.Context, job *Job) error
	Finish(ctx context.Context) error
}
