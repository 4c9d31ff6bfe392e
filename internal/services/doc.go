// Package services defines the error taxonomy and context annotations
// shared by every worker stage and external-service client.
package services
