package radio

import pb "github.com/meshnet-gophers/meshtastic-go/meshtastic"

// PortReticulumTunnel is the Meshtastic application port carrying Reticulum
// tunnel traffic (RETICULUM_TUNNEL_APP). The port was reserved upstream
// after the generated enum was last published, so the value is declared here.
const PortReticulumTunnel = pb.PortNum(76)
