package workflow

import (
	"errors"
	"fmt"
)

type Role string

const (
	RoleSampler          Role = "sampler"
	RoleLatentImage      Role = "latent-image"
	RolePositiveEncoder  Role = "positive-encoder"
	RoleNegativeEncoder  Role = "negative-encoder"
	RoleImageSaver       Role = "image-saver"
	RoleCheckpointLoader Role = "checkpoint-loader"
	RoleClipSkip         Role = "clip-skip"
)

// RequiredRoles must be bound for Build to succeed. Checkpoint loader and clip
// skip are rewritten only when the graph has them.
var RequiredRoles = []Role{RoleSampler, RoleLatentImage, RolePositiveEncoder, RoleNegativeEncoder, RoleImageSaver}

var ErrMissingRole = errors.New("workflow role not bound")

// Roles maps semantic roles to node ids.
type Roles map[Role]string

var roleByClass = map[string]Role{
	"EmptyLatentImage":       RoleLatentImage,
	"SaveImage":              RoleImageSaver,
	"CheckpointLoaderSimple": RoleCheckpointLoader,
	"CLIPSetLastLayer":       RoleClipSkip,
}

var textEncoderClasses = map[string]bool{
	"CLIPTextEncode":     true,
	"CLIPTextEncodeSDXL": true,
}

// DiscoverRoles binds roles by node class. The encoders are the text encode
// nodes wired into the sampler's positive and negative inputs. When a class
// appears more than once the lowest node id wins.
func DiscoverRoles(graph Graph) Roles {
	roles := Roles{}
	for _, id := range graph.NodeIDs() {
		node := graph[id]
		if node.ClassType == "KSampler" {
			if _, ok := roles[RoleSampler]; ok {
				continue
			}
			roles[RoleSampler] = id
			for input, role := range map[string]Role{"positive": RolePositiveEncoder, "negative": RoleNegativeEncoder} {
				ref, ok := node.Link(input)
				if !ok {
					continue
				}
				if target, ok := graph[ref]; ok && textEncoderClasses[target.ClassType] {
					roles[role] = ref
				}
			}
			continue
		}
		if role, ok := roleByClass[node.ClassType]; ok {
			if _, bound := roles[role]; !bound {
				roles[role] = id
			}
		}
	}
	return roles
}

// Validate checks that every required role is bound to a node of graph.
func (r Roles) Validate(graph Graph) error {
	for _, role := range RequiredRoles {
		id, ok := r[role]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingRole, role)
		}
		if _, ok := graph[id]; !ok {
			return fmt.Errorf("%w: %s points at missing node %s", ErrMissingNode, role, id)
		}
	}
	return nil
}
