package orchestrator

import (
	"os"

	rserr "alexhalogen/rsraid/internal/errors"
	"alexhalogen/rsraid/internal/integrity"
	"alexhalogen/rsraid/internal/types"
	"alexhalogen/rsraid/internal/volname"
)

// Job describes one run. Protect reads Source and writes the set into Dir;
// the other operations address an existing set by Dir, Name and Coding.
type Job struct {
	Source string
	Dir    string
	Name   string
	Coding types.Coding

	// Password enables payload encryption for Protect and decryption for
	// Recover. Empty means plain volumes.
	Password string

	// Output is the restored file for Recover, Dir/Name when empty.
	Output string

	// Fast limits Test to presence and size checks.
	Fast bool

	// Availability overrides the decoder input list for Recover.
	Availability []int
}

// JobFromVolume builds a job for the set the volume at path belongs to.
func JobFromVolume(path string) (Job, error) {
	dir, file := volname.SplitPath(path)
	v, ok := volname.Unpack(file)
	if !ok {
		return Job{}, rserr.NewConfigError("volume", "%q is not a volume file name", file)
	}
	if err := v.Coding.Validate(); err != nil {
		return Job{}, err
	}
	return Job{Dir: dir, Name: v.Name, Coding: v.Coding}, nil
}

// prepare validates the job and fills in defaults.
func prepare(op Operation, job *Job) error {
	if err := job.Coding.Validate(); err != nil {
		return err
	}
	if op == Protect {
		if job.Source == "" {
			return rserr.NewConfigError("source", "no source file")
		}
		fi, err := os.Stat(job.Source)
		if err != nil {
			return rserr.NewFileError("stat", job.Source, err)
		}
		if fi.IsDir() {
			return rserr.NewConfigError("source", "%s is a directory", job.Source)
		}
		srcDir, name := volname.SplitPath(job.Source)
		job.Name = name
		if job.Dir == "" {
			job.Dir = srcDir
		}
	}
	if job.Name == "" {
		return rserr.NewConfigError("name", "no volume set name")
	}
	if job.Dir == "" {
		job.Dir = "."
	}
	// the longest volume name must fit
	if _, err := volname.Pack(job.Name, job.Coding.Total()-1, job.Coding.DataCount, job.Coding.EccCount, job.Coding.Type); err != nil {
		return err
	}
	if op == Recover && job.Output == "" {
		job.Output = volname.JoinPath(job.Dir, job.Name)
	}
	return nil
}

// Result is delivered once per run on every exit path.
type Result struct {
	Op  Operation
	Err error

	// Report is the integrity check of Recover, Repair and Test.
	Report *integrity.Report
	// Volumes lists the volume files written by Protect.
	Volumes []string
	// Output is the file restored by Recover.
	Output string
}

func (r Result) Cancelled() bool {
	return rserr.IsCancelled(r.Err)
}
