//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed on the headless device with the default configuration.
func (Run) Engine() error {
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", ".", "-config", "config/keystone.toml"), withStream())
	return err
}

// Runs the testbed on the Vulkan device with validation layers enabled.
func (Run) Vulkan() error {
	mg.Deps(Build.Testbed)
	config, err := writeVulkanConfig()
	if err != nil {
		return err
	}
	_, err = executeCmd("bin/keystone", withArgs("-config", config), withStream())
	return err
}
