// Package loader reads pretrained checkpoints into module trees.
//
// It implements a SafeTensors reader (the Hugging Face standard weight
// format) and weight-name mappers that translate a checkpoint's key
// vocabulary into the keys a module tree expects. Only the source side
// of a conversion is loaded by name; everything downstream works by
// position.
package loader
